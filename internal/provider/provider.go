// Package provider abstracts the hosting platform's REST surface so the
// engine can be exercised against fakes. The GitHub implementation lives in
// the github subpackage.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced object (comment, label, thread)
// no longer exists on the host. Callers use it to trigger the free-standing
// comment fallback.
var ErrNotFound = errors.New("not found on host")

// PullRequest is a read-only snapshot of one unit of work, taken at dispatch
// time and never mutated during a pipeline run.
type PullRequest struct {
	Owner      string
	Repo       string
	Number     int
	Title      string
	HeadBranch string
	BaseBranch string
	HeadSHA    string
}

// Key returns the stable identity used by the in-flight registry.
func (p PullRequest) Key() string {
	return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repo, p.Number)
}

// Comment is one issue or review comment on a PR.
type Comment struct {
	// ID is the host's comment identifier, used for replies.
	ID int64
	// ThreadID groups review-comment replies under their root comment.
	ThreadID int64
	Author   string
	Body     string
	// Path and Line are set for inline review comments only.
	Path      string
	Line      int
	CreatedAt time.Time
}

// ReviewComment is an inline comment to be attached to a diff position.
type ReviewComment struct {
	Path string
	Line int
	Body string
}

// CheckRun is one entry from the structured check-run API.
type CheckRun struct {
	Name string
	// Status is "queued", "in_progress", or "completed".
	Status string
	// Conclusion is set once completed: "success", "failure", "neutral",
	// "cancelled", "timed_out", "action_required", "skipped".
	Conclusion string
	URL        string
}

// CommitStatus is one entry from the legacy commit-status API.
type CommitStatus struct {
	Context string
	// State is "pending", "success", "failure", or "error".
	State string
	URL   string
}

// Host is the hosting-platform contract the engine consumes.
type Host interface {
	// ListPRsByLabel lists open PRs in owner/repo carrying the given label.
	ListPRsByLabel(ctx context.Context, owner, repo, labelName string) ([]PullRequest, error)

	// GetPR fetches a fresh snapshot of one PR.
	GetPR(ctx context.Context, owner, repo string, number int) (*PullRequest, error)

	// ListChangedFiles returns the paths changed by the PR.
	ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error)

	// AddLabel attaches a label; RemoveLabel detaches one. Removing an
	// absent label returns ErrNotFound.
	AddLabel(ctx context.Context, owner, repo string, number int, name string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, name string) error

	// ListComments returns all issue and review comments on the PR.
	ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)

	// CreateComment posts a free-standing issue comment.
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error

	// CreateReview posts a batch of inline comments as one review.
	CreateReview(ctx context.Context, owner, repo string, number int, headSHA string, comments []ReviewComment) error

	// CreateInlineComment posts a single inline comment.
	CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, c ReviewComment) error

	// ReplyToComment replies to an existing review comment. Returns
	// ErrNotFound when the original comment is gone.
	ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error

	// ResolveThread marks the review thread containing commentID resolved.
	// Returns ErrNotFound when no thread contains the comment.
	ResolveThread(ctx context.Context, owner, repo string, number int, commentID int64) error

	// ListCheckRuns and ListStatuses fetch the two independent check-state
	// sources for a ref.
	ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error)
	ListStatuses(ctx context.Context, owner, repo, ref string) ([]CommitStatus, error)

	// GetCommitTime returns the committer timestamp of a ref.
	GetCommitTime(ctx context.Context, owner, repo, ref string) (time.Time, error)
}
