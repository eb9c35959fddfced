package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/provider"
	"github.com/shepherdbot/shepherd/internal/tag"
)

// resolvedMarker prefixes every reply that closes a feedback thread. The
// cycle counter and thread recovery both scan for it.
const resolvedMarker = "✅ Resolved"

// thread is one recovered feedback thread: the original bot comment plus
// whatever the comment history says about its disposition.
type thread struct {
	// ID is the tag thread uuid, never reused across the PR's lifetime.
	ID string
	// CommentID is the host comment to reply to; zero for free-standing
	// threads, which are answered with a new issue comment instead.
	CommentID int64
	Path      string
	Line      int
	Body      string
	Resolved  bool
}

// collectThreads rebuilds the feedback threads from a PR's comment history.
// Comments without a shepherd tag are not bot-owned and are ignored. The
// first comment carrying a given thread uuid is the thread root; any later
// comment carrying the same uuid and the resolution marker closes it.
func collectThreads(comments []provider.Comment) []thread {
	ordered := append([]provider.Comment{}, comments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var threads []thread
	index := make(map[string]int)

	for _, c := range ordered {
		t, ok := tag.Parse(c.Body)
		if !ok {
			continue
		}
		if i, seen := index[t.ThreadID]; seen {
			if containsMarker(c.Body) {
				threads[i].Resolved = true
			}
			continue
		}
		// Only inline review comments take threaded replies; free-standing
		// threads are answered with a new issue comment.
		var replyTo int64
		if c.Path != "" {
			replyTo = c.ThreadID
			if replyTo == 0 {
				replyTo = c.ID
			}
		}
		index[t.ThreadID] = len(threads)
		threads = append(threads, thread{
			ID:        t.ThreadID,
			CommentID: replyTo,
			Path:      c.Path,
			Line:      c.Line,
			Body:      c.Body,
			Resolved:  containsMarker(c.Body),
		})
	}
	return threads
}

func containsMarker(body string) bool {
	return strings.HasPrefix(body, resolvedMarker)
}

// openThreads filters to the threads still awaiting a disposition.
func openThreads(all []thread) []thread {
	var open []thread
	for _, t := range all {
		if !t.Resolved {
			open = append(open, t)
		}
	}
	return open
}

// replyWithFallback answers a feedback thread. The reply's tag carries the
// original thread uuid so recovery keeps finding the thread. When the
// underlying host comment is gone (or the thread was free-standing to begin
// with), the reply becomes a free-standing comment with the same tag.
func (e *Engine) replyWithFallback(ctx context.Context, pr provider.PullRequest, commentID int64, threadID, body, cycleID string) error {
	tagged := tag.Append(body, tag.Tag{ThreadID: threadID, CycleID: cycleID})

	if commentID != 0 {
		err := e.host.ReplyToComment(ctx, pr.Owner, pr.Repo, pr.Number, commentID, tagged)
		if err == nil {
			return nil
		}
		if !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("replying to comment %d: %w", commentID, err)
		}
		slog.Debug("reply target gone, falling back to a free-standing comment", "comment_id", commentID, "thread", threadID)
	}

	if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tagged); err != nil {
		return fmt.Errorf("posting fallback comment for thread %s: %w", threadID, err)
	}
	return nil
}

// postReviewComments publishes the merged pass comments. Inline comments go
// out as one batch review; if the batch fails, each is retried individually;
// any that still fail are restated as free-standing comments with the
// file and line in the body. Nothing is silently dropped.
func (e *Engine) postReviewComments(ctx context.Context, pr provider.PullRequest, comments []agent.ReviewComment, cycleID string) error {
	type pending struct {
		c agent.ReviewComment
		t tag.Tag
	}

	var inline, freestanding []pending
	for _, c := range comments {
		p := pending{c: c, t: tag.New(cycleID)}
		if c.Path != "" && c.Line > 0 {
			inline = append(inline, p)
		} else {
			freestanding = append(freestanding, p)
		}
	}

	var errs []error

	if len(inline) > 0 {
		batch := make([]provider.ReviewComment, len(inline))
		for i, p := range inline {
			batch[i] = provider.ReviewComment{Path: p.c.Path, Line: p.c.Line, Body: tag.Append(p.c.Body, p.t)}
		}
		if err := e.host.CreateReview(ctx, pr.Owner, pr.Repo, pr.Number, pr.HeadSHA, batch); err != nil {
			slog.Warn("batch review post failed, retrying comments individually", "pr", pr.Key(), "error", err)
			for _, p := range inline {
				rc := provider.ReviewComment{Path: p.c.Path, Line: p.c.Line, Body: tag.Append(p.c.Body, p.t)}
				if err := e.host.CreateInlineComment(ctx, pr.Owner, pr.Repo, pr.Number, pr.HeadSHA, rc); err == nil {
					continue
				}
				// Line probably left the diff; restate the location in a
				// free-standing comment instead of dropping the feedback.
				body := tag.Append(fmt.Sprintf("`%s:%d` %s", p.c.Path, p.c.Line, p.c.Body), p.t)
				if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, body); err != nil {
					errs = append(errs, fmt.Errorf("posting comment for %s:%d: %w", p.c.Path, p.c.Line, err))
				}
			}
		}
	}

	for _, p := range freestanding {
		if err := e.host.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, tag.Append(p.c.Body, p.t)); err != nil {
			errs = append(errs, fmt.Errorf("posting free-standing comment: %w", err))
		}
	}

	return errors.Join(errs...)
}
