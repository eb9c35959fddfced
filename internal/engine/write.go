package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/label"
	"github.com/shepherdbot/shepherd/internal/platform"
	"github.com/shepherdbot/shepherd/internal/prompts"
	"github.com/shepherdbot/shepherd/internal/provider"
	"github.com/shepherdbot/shepherd/internal/tag"
)

// Write runs the fix pipeline: cycle bound, checkout, conflict handling,
// fix pass, build safety net, push. Most expected failures leave the label
// untouched so a later poll (or a human) retries; only the cycle limit is
// terminal.
func (e *Engine) Write(ctx context.Context, pr provider.PullRequest) error {
	log := slog.With("pr", pr.Key(), "pipeline", "write")
	log.Info("starting fix run")

	comments, err := e.host.ListComments(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}

	// The cycle count is recomputed from comment history every run; it is
	// the only counter and survives restarts for free.
	bodies := make([]string, len(comments))
	for i, c := range comments {
		bodies[i] = c.Body
	}
	cycles := tag.CountCycles(bodies)
	if cycles >= e.cfg.Review.MaxCycles {
		log.Info("cycle limit reached, handing off", "cycles", cycles, "max", e.cfg.Review.MaxCycles)
		body := fmt.Sprintf("This PR has been through %d automated fix/review cycles (limit %d) without converging. Handing off for human intervention.", cycles, e.cfg.Review.MaxCycles)
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post hand-off comment", "error", err)
		}
		return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.HumanIntervention)
	}

	ws, err := e.checkouts.Acquire(ctx, pr)
	if err != nil {
		return fmt.Errorf("acquiring checkout: %w", err)
	}

	if done, err := e.reconcileBase(ctx, pr, ws, log); err != nil || done {
		return err
	}

	files, err := e.host.ListChangedFiles(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("listing changed files: %w", err)
	}
	plat, ok := platform.Detect(files)
	if !ok {
		log.Info("no recognizable platform in changed files")
		body := "Could not determine the project platform from the changed files; automated fixes are not possible here."
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post platform comment", "error", err)
		}
		return nil
	}

	threads := openThreads(collectThreads(comments))

	instructions, err := prompts.Load(prompts.Fix)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Agent.ParseFixTimeout())
	out, err := e.runner.Run(runCtx, ws.Dir(), instructions, fixMessage(pr, threads))
	cancel()
	if err != nil {
		return fmt.Errorf("fix pass: %w", err)
	}
	fixRes := agent.ParseFixResult(out)

	dirty, err := ws.HasLocalChanges(ctx)
	if err != nil {
		return fmt.Errorf("checking working tree: %w", err)
	}
	if !dirty {
		log.Info("fix pass produced no changes")
		body := "The automated fix pass could not address the outstanding feedback — no changes were produced. The feedback likely needs human judgment."
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post no-changes comment", "error", err)
		}
		return nil
	}

	gateRes, err := e.gate.Run(ctx, ws.Dir(), plat.BuildCommands())
	if err != nil {
		return fmt.Errorf("running build gate: %w", err)
	}
	if !gateRes.OK {
		log.Info("build gate failed after fixes, not pushing", "command", gateRes.FailedCommand)
		body := fmt.Sprintf("Automated fixes were produced but the build/test gate failed, so nothing was pushed.\n\nFailing command: `%s`\n\n```\n%s\n```", gateRes.FailedCommand, gateRes.Output)
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post gate failure comment", "error", err)
		}
		return nil
	}

	hash, err := ws.CommitAndPush(ctx, "Address automated review feedback")
	if err != nil {
		return fmt.Errorf("pushing fixes: %w", err)
	}
	log.Info("fixes pushed", "commit", hash)

	byID := make(map[string]thread, len(threads))
	for _, th := range threads {
		byID[th.ID] = th
	}
	for _, tf := range fixRes.ThreadsAddressed {
		th, ok := byID[tf.ThreadID]
		if !ok {
			log.Debug("fix pass named an unknown thread", "thread", tf.ThreadID)
			continue
		}
		if err := e.replyWithFallback(ctx, pr, th.CommentID, th.ID, tf.Explanation, ""); err != nil {
			log.Warn("failed to answer addressed thread", "thread", th.ID, "error", err)
		}
	}

	summary := fixRes.Summary
	if strings.TrimSpace(summary) == "" {
		summary = "Automated fixes applied."
	}
	body := fmt.Sprintf("%s\n\nPushed as %s; waiting for CI.", summary, hash)
	if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
		log.Warn("failed to post fix summary", "error", err)
	}

	return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.CIPending)
}

// reconcileBase brings the base branch into the checkout. A clean dry-run
// merge is a no-op. When the merge conflicts, the real merge is started,
// the agent resolves it, and the tree is verified marker-free before the
// merge commit completes. done=true means the run already settled (a
// comment was posted; label untouched).
func (e *Engine) reconcileBase(ctx context.Context, pr provider.PullRequest, ws Workspace, log *slog.Logger) (done bool, err error) {
	conflicts, err := ws.DryRunMerge(ctx)
	if err != nil {
		return false, fmt.Errorf("dry-run merge: %w", err)
	}
	if len(conflicts) == 0 {
		return false, nil
	}
	log.Info("base merge conflicts, invoking resolution pass", "files", len(conflicts))

	conflicted, err := ws.BeginMerge(ctx)
	if err != nil {
		return false, fmt.Errorf("starting merge: %w", err)
	}
	if len(conflicted) == 0 {
		// The dry run conflicted but the real merge did not; nothing to
		// resolve, leave the merged state for the fix pass to carry.
		return false, nil
	}

	instructions, err := prompts.Load(prompts.ConflictResolve)
	if err != nil {
		abortQuietly(ctx, ws, log)
		return false, err
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Agent.ParseConflictTimeout())
	out, err := e.runner.Run(runCtx, ws.Dir(), instructions, conflictMessage(pr, conflicted))
	cancel()
	if err != nil {
		abortQuietly(ctx, ws, log)
		return false, fmt.Errorf("conflict resolution pass: %w", err)
	}
	res := agent.ParseConflictResult(out)

	markers, err := ws.ConflictMarkersPresent()
	if err != nil {
		abortQuietly(ctx, ws, log)
		return false, fmt.Errorf("verifying conflict resolution: %w", err)
	}
	if len(markers) > 0 {
		log.Info("conflict markers remain after resolution pass", "files", markers)
		body := fmt.Sprintf("Automated conflict resolution with the base branch was incomplete; markers remain in:\n- %s\n\nThe merge was aborted. Please resolve the conflicts manually.", strings.Join(markers, "\n- "))
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post conflict failure comment", "error", err)
		}
		abortQuietly(ctx, ws, log)
		return true, nil
	}

	if err := ws.CompleteMerge(ctx); err != nil {
		return false, fmt.Errorf("completing merge: %w", err)
	}
	log.Info("base branch merged", "summary", firstLine(res.Summary))
	return false, nil
}

func abortQuietly(ctx context.Context, ws Workspace, log *slog.Logger) {
	if err := ws.AbortMerge(ctx); err != nil {
		log.Warn("failed to abort merge", "error", err)
	}
}

// fixMessage is the task-specific user message for the fix pass.
func fixMessage(pr provider.PullRequest, threads []thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Address the outstanding review feedback on pull request #%d: %s\n\n", pr.Number, pr.Title)

	if len(threads) == 0 {
		b.WriteString("No individually tracked threads remain; re-check the review summary comments for anything actionable.\n")
		return b.String()
	}

	b.WriteString("Outstanding feedback threads:\n")
	for _, th := range threads {
		loc := "general"
		if th.Path != "" {
			loc = fmt.Sprintf("%s:%d", th.Path, th.Line)
		}
		fmt.Fprintf(&b, "- thread_id %s (%s): %s\n", th.ID, loc, firstLine(th.Body))
	}
	return b.String()
}

// conflictMessage names the conflicted files for the resolution pass.
func conflictMessage(pr provider.PullRequest, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve the merge conflicts between %s and %s on pull request #%d.\n\nConflicted files:\n", pr.BaseBranch, pr.HeadBranch, pr.Number)
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}
