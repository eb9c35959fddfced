package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/label"
	"github.com/shepherdbot/shepherd/internal/provider"
	"github.com/shepherdbot/shepherd/internal/tag"
)

func TestCollectThreads(t *testing.T) {
	t1 := tag.New(tag.NewCycleID())
	t2 := tag.New("")
	now := time.Now()

	comments := []provider.Comment{
		{ID: 1, ThreadID: 1, Path: "a.go", Line: 3, Body: tag.Append("check this error", t1), CreatedAt: now},
		{ID: 2, Body: "a human comment with no tag", CreatedAt: now.Add(time.Minute)},
		{ID: 3, Body: tag.Append("general concern", t2), CreatedAt: now.Add(2 * time.Minute)},
		// A later reply resolving the first thread.
		{ID: 4, ThreadID: 1, Body: tag.Append(resolvedMarker+" handled", tag.Tag{ThreadID: t1.ThreadID}), CreatedAt: now.Add(3 * time.Minute)},
	}

	threads := collectThreads(comments)
	require.Len(t, threads, 2, "untagged comments are not threads")

	assert.Equal(t, t1.ThreadID, threads[0].ID)
	assert.True(t, threads[0].Resolved)
	assert.Equal(t, int64(1), threads[0].CommentID)

	assert.Equal(t, t2.ThreadID, threads[1].ID)
	assert.False(t, threads[1].Resolved)
	assert.Equal(t, int64(0), threads[1].CommentID, "free-standing threads have no reply target")

	open := openThreads(threads)
	require.Len(t, open, 1)
	assert.Equal(t, t2.ThreadID, open[0].ID)
}

func TestReplyFallbackOnDeletedComment(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ChangesNeeded))

	threadID := tag.New("").ThreadID
	host.DeletedComments[42] = true

	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)
	require.NoError(t, e.replyWithFallback(context.Background(), pr, 42, threadID, "the fix explanation", ""))

	comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	require.Len(t, comments, 1, "fallback must post a free-standing comment")
	assert.Contains(t, comments[0].Body, threadID, "the original thread id survives in the fallback body")
	assert.Empty(t, comments[0].Path, "fallback is free-standing")
}

func TestReplyToLiveComment(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ChangesNeeded))

	prior := tag.New("")
	require.NoError(t, host.CreateInlineComment(context.Background(), pr.Owner, pr.Repo, pr.Number, pr.HeadSHA,
		provider.ReviewComment{Path: "a.go", Line: 3, Body: tag.Append("fix me", prior)}))
	comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	require.Len(t, comments, 1)

	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)
	require.NoError(t, e.replyWithFallback(context.Background(), pr, comments[0].ID, prior.ThreadID, "done", ""))

	comments, _ = host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	require.Len(t, comments, 2)
	assert.Equal(t, comments[0].ID, comments[1].ThreadID, "reply lands in the original thread")
}

func TestPostReviewCommentsBatch(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ReviewNeeded))

	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)
	cycleID := tag.NewCycleID()
	err := e.postReviewComments(context.Background(), pr, []agent.ReviewComment{
		{Path: "a.go", Line: 3, Body: "inline one"},
		{Path: "b.go", Line: 9, Body: "inline two"},
		{Body: "general note"},
	}, cycleID)
	require.NoError(t, err)

	comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	require.Len(t, comments, 3)
	for _, c := range comments {
		ct, ok := tag.Parse(c.Body)
		require.True(t, ok, "every posted comment is tagged")
		assert.Equal(t, cycleID, ct.CycleID)
	}
}

func TestPostReviewCommentsFallbackChain(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ReviewNeeded))

	// Batch fails outright; the retry for stale.go fails too, so that one
	// must surface as a free-standing comment restating the location.
	host.ReviewErr = errors.New("one comment is outside the diff")
	host.InlineErrs["stale.go"] = errors.New("line not in diff")

	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)
	err := e.postReviewComments(context.Background(), pr, []agent.ReviewComment{
		{Path: "live.go", Line: 3, Body: "still anchored"},
		{Path: "stale.go", Line: 120, Body: "anchor is gone"},
	}, tag.NewCycleID())
	require.NoError(t, err)

	comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	require.Len(t, comments, 2, "no feedback is dropped")

	var free *provider.Comment
	for i := range comments {
		if comments[i].Path == "" {
			free = &comments[i]
		}
	}
	require.NotNil(t, free)
	assert.Contains(t, free.Body, "stale.go:120", "location is restated in the body")
	assert.Contains(t, free.Body, "anchor is gone")
}
