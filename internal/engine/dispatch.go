package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shepherdbot/shepherd/internal/label"
	"github.com/shepherdbot/shepherd/internal/provider"
	"github.com/shepherdbot/shepherd/internal/tag"
)

// pipeline is one label category's handler.
type pipeline struct {
	label label.Label
	name  string
	run   func(context.Context, provider.PullRequest) error
}

func (e *Engine) pipelines() []pipeline {
	return []pipeline{
		{label.ReviewNeeded, "review", e.Review},
		{label.ChangesNeeded, "write", e.Write},
		{label.CIPending, "ci", e.HandleCI},
	}
}

// Run drives the poll loop until ctx is cancelled. One poll fires
// immediately so a fresh start does not wait a full interval.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Server.ParsePollInterval()
	slog.Info("engine started", "interval", interval, "owner", e.cfg.GitHub.Owner, "repos", e.cfg.GitHub.Repos)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.poll(ctx)
		case <-e.trigger:
			e.poll(ctx)
		}
	}
}

// TriggerPoll requests an immediate poll. Coalesces when one is already
// queued.
func (e *Engine) TriggerPoll() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) poll(ctx context.Context) {
	for _, repo := range e.cfg.GitHub.Repos {
		e.pollRepo(ctx, e.cfg.GitHub.Owner, repo)
	}
}

// pollRepo lists each label category and dispatches every PR not already in
// flight. Listing failures are logged and skipped; the next tick retries.
func (e *Engine) pollRepo(ctx context.Context, owner, repo string) {
	for _, p := range e.pipelines() {
		prs, err := e.host.ListPRsByLabel(ctx, owner, repo, string(p.label))
		if err != nil {
			slog.Warn("failed to list PRs", "repo", owner+"/"+repo, "label", p.label, "error", err)
			continue
		}
		for _, pr := range prs {
			e.dispatch(ctx, pr, p)
		}
	}
}

// dispatch fires one pipeline run without waiting for it. The registry
// entry is removed on settlement regardless of outcome, and a pipeline
// error never propagates out of the loop.
func (e *Engine) dispatch(ctx context.Context, pr provider.PullRequest, p pipeline) {
	key := pr.Key()
	if !e.registry.TryAdd(key) {
		slog.Debug("pipeline already in flight, skipping", "pr", key)
		return
	}

	go func() {
		defer e.registry.Remove(key)
		if err := p.run(ctx, pr); err != nil {
			slog.Error("pipeline failed", "pr", key, "pipeline", p.name, "error", err)
			e.reportFailure(ctx, pr, p, err)
		}
	}()
}

// reportFailure is the top-level pipeline error handler: a best-effort
// error comment, and for the two mutating pipelines a transition to
// changes-needed so a human or the next cycle can react. The CI handler
// leaves the label alone; its PR is still legitimately waiting.
func (e *Engine) reportFailure(ctx context.Context, pr provider.PullRequest, p pipeline, runErr error) {
	body := fmt.Sprintf("The automated %s run failed and will be retried on a later poll:\n\n```\n%v\n```", p.name, runErr)
	if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
		slog.Warn("failed to post pipeline error comment", "pr", pr.Key(), "error", err)
	}

	if p.label == label.CIPending {
		return
	}
	if err := label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ChangesNeeded); err != nil {
		slog.Warn("failed to park PR in changes-needed after error", "pr", pr.Key(), "error", err)
	}
}
