package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherdbot/shepherd/internal/provider"
)

// newTestBackend creates a Backend wired to a test HTTP server.
func newTestBackend(t *testing.T, handler http.Handler) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gh.NewClient(nil).WithEnterpriseURLs(server.URL+"/", server.URL+"/")
	require.NoError(t, err)

	return &Backend{client: client, token: "test-token"}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetPR(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequest{
			Number: gh.Ptr(42),
			Title:  gh.Ptr("Add frobnicator"),
			Head:   &gh.PullRequestBranch{Ref: gh.Ptr("feature/frob"), SHA: gh.Ptr("abc123")},
			Base:   &gh.PullRequestBranch{Ref: gh.Ptr("main")},
		})
	})

	b := newTestBackend(t, mux)
	pr, err := b.GetPR(context.Background(), "acme", "widgets", 42)
	require.NoError(t, err)

	assert.Equal(t, "acme", pr.Owner)
	assert.Equal(t, "widgets", pr.Repo)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "Add frobnicator", pr.Title)
	assert.Equal(t, "feature/frob", pr.HeadBranch)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, "abc123", pr.HeadSHA)
}

func TestRemoveLabelAbsentIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v3/repos/acme/widgets/issues/7/labels/bot-ci-pending", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	b := newTestBackend(t, mux)
	err := b.RemoveLabel(context.Background(), "acme", "widgets", 7, "bot-ci-pending")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestListCommentsMergesBothSources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []gh.IssueComment{
			{
				ID:   gh.Ptr(int64(1)),
				User: &gh.User{Login: gh.Ptr("alice")},
				Body: gh.Ptr("general comment"),
			},
		})
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []gh.PullRequestComment{
			{
				ID:   gh.Ptr(int64(2)),
				User: &gh.User{Login: gh.Ptr("bob")},
				Body: gh.Ptr("root inline comment"),
				Path: gh.Ptr("main.go"),
				Line: gh.Ptr(10),
			},
			{
				ID:        gh.Ptr(int64(3)),
				InReplyTo: gh.Ptr(int64(2)),
				User:      &gh.User{Login: gh.Ptr("carol")},
				Body:      gh.Ptr("reply"),
				Path:      gh.Ptr("main.go"),
				Line:      gh.Ptr(10),
			},
		})
	})

	b := newTestBackend(t, mux)
	comments, err := b.ListComments(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)
	require.Len(t, comments, 3)

	assert.Equal(t, int64(1), comments[0].ThreadID)
	assert.Equal(t, int64(2), comments[1].ThreadID)
	// Replies group under the root comment.
	assert.Equal(t, int64(2), comments[2].ThreadID)
	assert.Equal(t, "main.go", comments[1].Path)
}

func TestReplyToCommentGoneIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/pulls/7/comments/999/replies", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	b := newTestBackend(t, mux)
	err := b.ReplyToComment(context.Background(), "acme", "widgets", 7, 999, "hello")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestListCheckRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/commits/abc123/check-runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.ListCheckRunsResults{
			Total: gh.Ptr(2),
			CheckRuns: []*gh.CheckRun{
				{Name: gh.Ptr("build"), Status: gh.Ptr("completed"), Conclusion: gh.Ptr("success")},
				{Name: gh.Ptr("lint"), Status: gh.Ptr("in_progress")},
			},
		})
	})

	b := newTestBackend(t, mux)
	runs, err := b.ListCheckRuns(context.Background(), "acme", "widgets", "abc123")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "success", runs[0].Conclusion)
	assert.Equal(t, "in_progress", runs[1].Status)
}

func TestListStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/commits/abc123/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.CombinedStatus{
			Statuses: []*gh.RepoStatus{
				{Context: gh.Ptr("ci/legacy"), State: gh.Ptr("failure")},
			},
		})
	})

	b := newTestBackend(t, mux)
	statuses, err := b.ListStatuses(context.Background(), "acme", "widgets", "abc123")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "failure", statuses[0].State)
}

func TestGetCommitTimePrefersCommitterDate(t *testing.T) {
	committed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	authored := committed.Add(-time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.RepositoryCommit{
			Commit: &gh.Commit{
				Author:    &gh.CommitAuthor{Date: &gh.Timestamp{Time: authored}},
				Committer: &gh.CommitAuthor{Date: &gh.Timestamp{Time: committed}},
			},
		})
	})

	b := newTestBackend(t, mux)
	got, err := b.GetCommitTime(context.Background(), "acme", "widgets", "abc123")
	require.NoError(t, err)
	assert.True(t, got.Equal(committed))
}
