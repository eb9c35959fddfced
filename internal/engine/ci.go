package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shepherdbot/shepherd/internal/label"
	"github.com/shepherdbot/shepherd/internal/provider"
	"github.com/shepherdbot/shepherd/internal/tag"
)

// CIState is the reduced check state of a commit.
type CIState string

const (
	CIPassed  CIState = "passed"
	CIFailed  CIState = "failed"
	CIPending CIState = "pending"
)

// FailedCheck describes one failing check or status.
type FailedCheck struct {
	Name       string
	Conclusion string
	URL        string
}

// CIVerdict is the tri-state reduction over both check-state sources.
type CIVerdict struct {
	State        CIState
	Summary      string
	FailedChecks []FailedCheck
}

// failing conclusions for the check-run API; the status API's failing
// states are "failure" and "error".
func checkRunFailed(conclusion string) bool {
	switch conclusion {
	case "failure", "cancelled", "timed_out", "action_required":
		return true
	}
	return false
}

// ReduceCI folds check-runs and legacy statuses into one verdict. No
// results from either source counts as passed: absence of CI is vacuously
// satisfied.
func ReduceCI(checks []provider.CheckRun, statuses []provider.CommitStatus) CIVerdict {
	if len(checks) == 0 && len(statuses) == 0 {
		return CIVerdict{State: CIPassed, Summary: "no checks configured"}
	}

	var failed []FailedCheck
	pending := false

	for _, c := range checks {
		if c.Status != "completed" {
			pending = true
			continue
		}
		if checkRunFailed(c.Conclusion) {
			failed = append(failed, FailedCheck{Name: c.Name, Conclusion: c.Conclusion, URL: c.URL})
		}
	}
	for _, s := range statuses {
		switch s.State {
		case "pending":
			pending = true
		case "failure", "error":
			failed = append(failed, FailedCheck{Name: s.Context, Conclusion: s.State, URL: s.URL})
		}
	}

	switch {
	case len(failed) > 0:
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.Name
		}
		return CIVerdict{
			State:        CIFailed,
			Summary:      fmt.Sprintf("%d check(s) failed: %s", len(failed), strings.Join(names, ", ")),
			FailedChecks: failed,
		}
	case pending:
		return CIVerdict{State: CIPending, Summary: "checks still running"}
	default:
		return CIVerdict{State: CIPassed, Summary: "all checks passed"}
	}
}

// HandleCI is the ci-pending pipeline: reduce both check sources to a
// verdict and transition accordingly. The CI timeout is measured from the
// head commit's own timestamp, never from when this process started
// watching, so it survives restarts.
func (e *Engine) HandleCI(ctx context.Context, pr provider.PullRequest) error {
	checks, err := e.host.ListCheckRuns(ctx, pr.Owner, pr.Repo, pr.HeadSHA)
	if err != nil {
		return fmt.Errorf("listing check runs: %w", err)
	}
	statuses, err := e.host.ListStatuses(ctx, pr.Owner, pr.Repo, pr.HeadSHA)
	if err != nil {
		return fmt.Errorf("listing statuses: %w", err)
	}

	verdict := ReduceCI(checks, statuses)
	log := slog.With("pr", pr.Key(), "state", verdict.State)

	if verdict.State == CIPending {
		committed, err := e.host.GetCommitTime(ctx, pr.Owner, pr.Repo, pr.HeadSHA)
		if err != nil {
			return fmt.Errorf("fetching commit time: %w", err)
		}
		elapsed := e.now().Sub(committed)
		timeout := e.cfg.CI.ParseTimeout()
		if elapsed <= timeout {
			log.Debug("checks pending, waiting", "elapsed", elapsed.Round(time.Second))
			return nil
		}
		// Timed out waiting; treat identically to failed.
		verdict = CIVerdict{
			State:   CIFailed,
			Summary: fmt.Sprintf("checks still pending after %s (started from commit timestamp)", elapsed.Round(time.Second)),
		}
		log = slog.With("pr", pr.Key(), "state", verdict.State)
	}

	switch verdict.State {
	case CIPassed:
		log.Info("checks passed, queueing for review")
		return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ReviewNeeded)

	default: // CIFailed, including timeout
		body := fmt.Sprintf("CI did not pass: %s", verdict.Summary)
		for _, f := range verdict.FailedChecks {
			if f.URL != "" {
				body += fmt.Sprintf("\n- **%s** (%s): %s", f.Name, f.Conclusion, f.URL)
			} else {
				body += fmt.Sprintf("\n- **%s** (%s)", f.Name, f.Conclusion)
			}
		}
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(body, tag.New(""))); err != nil {
			log.Warn("failed to post CI failure comment", "error", err)
		}
		log.Info("checks failed, queueing for fixes")
		return label.Transition(ctx, e.host, pr.Owner, pr.Repo, pr.Number, label.ChangesNeeded)
	}
}
