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

// Review runs the review pipeline: checkout, build gate, two analysis
// passes sharing one cycle id, merge, post, outcome. The agent never runs
// against code that does not build; the gate short-circuits first.
func (e *Engine) Review(ctx context.Context, pr provider.PullRequest) error {
	log := slog.With("pr", pr.Key(), "pipeline", "review")
	log.Info("starting review run")

	ws, err := e.checkouts.Acquire(ctx, pr)
	if err != nil {
		return fmt.Errorf("acquiring checkout: %w", err)
	}

	files, err := e.host.ListChangedFiles(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("listing changed files: %w", err)
	}

	plat, ok := platform.Detect(files)
	if !ok {
		log.Info("no recognizable platform in changed files")
		body := "Could not determine the project platform from the changed files, so the automated review cannot run its build gate. A human should take a look."
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post platform comment", "error", err)
		}
		return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ChangesNeeded)
	}

	gateRes, err := e.gate.Run(ctx, ws.Dir(), plat.BuildCommands())
	if err != nil {
		return fmt.Errorf("running build gate: %w", err)
	}
	if !gateRes.OK {
		log.Info("build gate failed, skipping analysis", "command", gateRes.FailedCommand)
		body := fmt.Sprintf("The build/test gate failed before review could start.\n\nFailing command: `%s`\n\n```\n%s\n```", gateRes.FailedCommand, gateRes.Output)
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post gate failure comment", "error", err)
		}
		return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ChangesNeeded)
	}

	comments, err := e.host.ListComments(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}
	threads := openThreads(collectThreads(comments))

	cycleID := tag.NewCycleID()
	message := reviewMessage(pr, files, threads)

	arch, err := e.reviewPass(ctx, ws.Dir(), prompts.ReviewArchitecture, message)
	if err != nil {
		return fmt.Errorf("architecture pass: %w", err)
	}
	detail, err := e.reviewPass(ctx, ws.Dir(), prompts.ReviewDetailed, message)
	if err != nil {
		return fmt.Errorf("detailed pass: %w", err)
	}

	merged := MergeResults(arch, detail)
	log.Info("passes merged", "new_comments", len(merged.Comments), "verdicts", len(merged.Verdicts))

	// Dispose of outstanding threads first, in recovered order.
	for _, th := range threads {
		v, ok := merged.Verdicts[th.ID]
		if !ok {
			continue
		}
		var body string
		switch {
		case v.Resolved && v.Response != "":
			body = resolvedMarker + " — " + v.Response
		case v.Resolved:
			body = resolvedMarker
		case v.Response != "":
			body = v.Response
		default:
			continue
		}
		if err := e.replyWithFallback(ctx, pr, th.CommentID, th.ID, body, cycleID); err != nil {
			log.Warn("failed to answer thread", "thread", th.ID, "error", err)
		}
		if v.Resolved && th.CommentID != 0 {
			// Best effort: the reply already records the resolution.
			if err := e.host.ResolveThread(ctx, pr.Owner, pr.Repo, pr.Number, th.CommentID); err != nil {
				log.Debug("could not resolve review thread on host", "thread", th.ID, "error", err)
			}
		}
	}

	if err := e.postReviewComments(ctx, pr, merged.Comments, cycleID); err != nil {
		log.Warn("some review comments could not be posted", "error", err)
	}

	summary := merged.Summary
	if merged.ArchitectureUpdateNeeded.Needed {
		summary += fmt.Sprintf("\n\n**Architecture note:** %s", merged.ArchitectureUpdateNeeded.Reason)
	}

	unresolved := false
	for _, th := range threads {
		if v, ok := merged.Verdicts[th.ID]; !ok || !v.Resolved {
			unresolved = true
			break
		}
	}

	if unresolved || len(merged.Comments) > 0 {
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(summary, tag.New(cycleID))); err != nil {
			log.Warn("failed to post review summary", "error", err)
		}
		log.Info("review found outstanding work, queueing for fixes")
		if err := label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ChangesNeeded); err != nil {
			return err
		}
	} else {
		approval := "Automated review found no outstanding issues.\n\n" + summary
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(approval, tag.New(cycleID))); err != nil {
			log.Warn("failed to post approval comment", "error", err)
		}
		log.Info("review clean, handing off to human review")
		if err := label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.HumanReviewNeeded); err != nil {
			return err
		}
	}

	if err := e.checkouts.Prune(); err != nil {
		log.Warn("checkout prune failed", "error", err)
	}
	return nil
}

// reviewPass layers one pass-specific instruction document onto the shared
// base and runs the agent under the review timeout. The agent's output is
// decoded permissively: garbage degrades to an empty result.
func (e *Engine) reviewPass(ctx context.Context, dir, passDoc, message string) (agent.ReviewResult, error) {
	instructions, err := prompts.Compose(prompts.ReviewBase, passDoc)
	if err != nil {
		return agent.ReviewResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Agent.ParseReviewTimeout())
	defer cancel()

	out, err := e.runner.Run(runCtx, dir, instructions, message)
	if err != nil {
		return agent.ReviewResult{}, err
	}
	return agent.ParseReviewResult(out), nil
}

// reviewMessage is the task-specific user message shared by both passes.
func reviewMessage(pr provider.PullRequest, files []string, threads []thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review pull request #%d: %s\n", pr.Number, pr.Title)
	fmt.Fprintf(&b, "Head branch %s, base branch %s.\n\n", pr.HeadBranch, pr.BaseBranch)

	b.WriteString("Changed files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	if len(threads) > 0 {
		b.WriteString("\nOutstanding feedback threads:\n")
		for _, th := range threads {
			loc := "general"
			if th.Path != "" {
				loc = fmt.Sprintf("%s:%d", th.Path, th.Line)
			}
			fmt.Fprintf(&b, "- thread_id %s (%s): %s\n", th.ID, loc, firstLine(th.Body))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
