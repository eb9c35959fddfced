// Package github implements provider.Host against the GitHub REST and
// GraphQL APIs using go-github with rate-limit-aware transport.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/shepherdbot/shepherd/internal/provider"
)

// Backend implements provider.Host for GitHub.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	token     string
}

// NewBackend creates a GitHub backend authenticated with the given token.
// Uses go-github-ratelimit middleware for automatic rate limit handling.
func NewBackend(token string) *Backend {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client: client,
		token:  token,
	}
}

// ListPRsByLabel lists open PRs carrying the given label. The issues search
// surface is the only one that filters by label, so results are mapped back
// through the pulls API for branch metadata.
func (b *Backend) ListPRsByLabel(ctx context.Context, owner, repo, labelName string) ([]provider.PullRequest, error) {
	var out []provider.PullRequest

	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{labelName},
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := b.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues by label %q: %w", labelName, err)
		}
		for _, issue := range issues {
			if !issue.IsPullRequest() {
				continue
			}
			pr, err := b.GetPR(ctx, owner, repo, issue.GetNumber())
			if err != nil {
				return nil, err
			}
			out = append(out, *pr)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	return out, nil
}

// GetPR fetches a snapshot of one pull request.
func (b *Backend) GetPR(ctx context.Context, owner, repo string, number int) (*provider.PullRequest, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("getting PR #%d: %w", number, err))
	}
	return &provider.PullRequest{
		Owner:      owner,
		Repo:       repo,
		Number:     number,
		Title:      pr.GetTitle(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
	}, nil
}

// ListChangedFiles returns the paths changed by a PR.
func (b *Backend) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var files []string
	opts := &gh.ListOptions{PerPage: 100}
	for {
		changed, resp, err := b.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing changed files: %w", err)
		}
		for _, f := range changed {
			files = append(files, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// AddLabel attaches a label to a PR.
func (b *Backend) AddLabel(ctx context.Context, owner, repo string, number int, name string) error {
	_, _, err := b.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{name})
	if err != nil {
		return fmt.Errorf("adding label %q: %w", name, err)
	}
	return nil
}

// RemoveLabel detaches a label from a PR. Removing an absent label returns
// provider.ErrNotFound.
func (b *Backend) RemoveLabel(ctx context.Context, owner, repo string, number int, name string) error {
	resp, err := b.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return provider.ErrNotFound
		}
		return fmt.Errorf("removing label %q: %w", name, err)
	}
	return nil
}

// ListComments returns all issue comments and review comments on a PR.
func (b *Backend) ListComments(ctx context.Context, owner, repo string, number int) ([]provider.Comment, error) {
	var comments []provider.Comment

	issueOpts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		issueComments, resp, err := b.client.Issues.ListComments(ctx, owner, repo, number, issueOpts)
		if err != nil {
			return nil, fmt.Errorf("listing issue comments: %w", err)
		}
		for _, c := range issueComments {
			comments = append(comments, provider.Comment{
				ID:        c.GetID(),
				ThreadID:  c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	reviewOpts := &gh.PullRequestListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		reviewComments, resp, err := b.client.PullRequests.ListComments(ctx, owner, repo, number, reviewOpts)
		if err != nil {
			return nil, fmt.Errorf("listing review comments: %w", err)
		}
		for _, c := range reviewComments {
			// Group replies under the root comment.
			threadID := c.GetID()
			if c.GetInReplyTo() != 0 {
				threadID = c.GetInReplyTo()
			}
			comments = append(comments, provider.Comment{
				ID:        c.GetID(),
				ThreadID:  threadID,
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				Path:      c.GetPath(),
				Line:      c.GetLine(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	return comments, nil
}

// CreateComment posts a free-standing issue comment.
func (b *Backend) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := b.client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	return nil
}

// CreateReview posts a batch of inline comments as a single review with
// Event "COMMENT" so they are immediately visible.
func (b *Backend) CreateReview(ctx context.Context, owner, repo string, number int, headSHA string, comments []provider.ReviewComment) error {
	draft := make([]*gh.DraftReviewComment, 0, len(comments))
	for _, c := range comments {
		draft = append(draft, &gh.DraftReviewComment{
			Path: gh.Ptr(c.Path),
			Line: gh.Ptr(c.Line),
			Side: gh.Ptr("RIGHT"),
			Body: gh.Ptr(c.Body),
		})
	}

	_, _, err := b.client.PullRequests.CreateReview(ctx, owner, repo, number, &gh.PullRequestReviewRequest{
		CommitID: gh.Ptr(headSHA),
		Event:    gh.Ptr("COMMENT"),
		Comments: draft,
	})
	if err != nil {
		return fmt.Errorf("creating review: %w", err)
	}
	return nil
}

// CreateInlineComment posts a single inline comment as a one-comment review.
func (b *Backend) CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, c provider.ReviewComment) error {
	return b.CreateReview(ctx, owner, repo, number, headSHA, []provider.ReviewComment{c})
}

// ReplyToComment replies to an existing review comment by its identifier.
// A 404 from the host maps to provider.ErrNotFound so callers can fall back
// to a free-standing comment.
func (b *Backend) ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, resp, err := b.client.PullRequests.CreateCommentInReplyTo(ctx, owner, repo, number, body, commentID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return provider.ErrNotFound
		}
		return fmt.Errorf("replying to comment %d: %w", commentID, err)
	}
	return nil
}

// ListCheckRuns returns all check runs for a ref (with pagination).
func (b *Backend) ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]provider.CheckRun, error) {
	var runs []provider.CheckRun
	opts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		result, resp, err := b.client.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("listing check runs: %w", err)
		}
		for _, cr := range result.CheckRuns {
			runs = append(runs, provider.CheckRun{
				Name:       cr.GetName(),
				Status:     cr.GetStatus(),
				Conclusion: cr.GetConclusion(),
				URL:        cr.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return runs, nil
}

// ListStatuses returns the legacy combined commit status entries for a ref.
func (b *Backend) ListStatuses(ctx context.Context, owner, repo, ref string) ([]provider.CommitStatus, error) {
	combined, _, err := b.client.Repositories.GetCombinedStatus(ctx, owner, repo, ref, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("getting combined status: %w", err)
	}
	statuses := make([]provider.CommitStatus, 0, len(combined.Statuses))
	for _, s := range combined.Statuses {
		statuses = append(statuses, provider.CommitStatus{
			Context: s.GetContext(),
			State:   s.GetState(),
			URL:     s.GetTargetURL(),
		})
	}
	return statuses, nil
}

// GetCommitTime returns the committer timestamp of a ref, falling back to
// the author timestamp when the committer date is absent.
func (b *Backend) GetCommitTime(ctx context.Context, owner, repo, ref string) (time.Time, error) {
	commit, _, err := b.client.Repositories.GetCommit(ctx, owner, repo, ref, nil)
	if err != nil {
		return time.Time{}, wrapNotFound(fmt.Errorf("getting commit %s: %w", ref, err))
	}
	if t := commit.GetCommit().GetCommitter().GetDate(); !t.IsZero() {
		return t.Time, nil
	}
	return commit.GetCommit().GetAuthor().GetDate().Time, nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Reserved for thread-resolution mutations that REST cannot express.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}

// ResolveThread marks the review thread containing commentID resolved. The
// REST API has no resolve operation, so the thread node is located and
// mutated via GraphQL.
func (b *Backend) ResolveThread(ctx context.Context, owner, repo string, number int, commentID int64) error {
	nodeID, err := b.findThreadNode(ctx, owner, repo, number, commentID)
	if err != nil {
		return err
	}

	var mutation struct {
		ResolveReviewThread struct {
			Thread struct {
				IsResolved bool
			}
		} `graphql:"resolveReviewThread(input: $input)"`
	}
	input := githubv4.ResolveReviewThreadInput{
		ThreadID: githubv4.ID(nodeID),
	}
	if err := b.getGraphQLClient(ctx).Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("resolving review thread: %w", err)
	}
	return nil
}

// findThreadNode maps a review comment's database ID to its thread node ID.
func (b *Backend) findThreadNode(ctx context.Context, owner, repo string, number int, commentID int64) (string, error) {
	var query struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						ID       githubv4.ID
						Comments struct {
							Nodes []struct {
								DatabaseID githubv4.Int
							}
						} `graphql:"comments(first: 100)"`
					}
					PageInfo struct {
						HasNextPage githubv4.Boolean
						EndCursor   githubv4.String
					}
				} `graphql:"reviewThreads(first: 100, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(repo),
		"number": githubv4.Int(number),
		"cursor": (*githubv4.String)(nil),
	}

	gql := b.getGraphQLClient(ctx)
	for {
		if err := gql.Query(ctx, &query, vars); err != nil {
			return "", fmt.Errorf("querying review threads: %w", err)
		}
		threads := query.Repository.PullRequest.ReviewThreads
		for _, t := range threads.Nodes {
			for _, c := range t.Comments.Nodes {
				if int64(c.DatabaseID) == commentID {
					return fmt.Sprintf("%v", t.ID), nil
				}
			}
		}
		if !threads.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(threads.PageInfo.EndCursor)
	}

	return "", provider.ErrNotFound
}

// wrapNotFound rewrites go-github 404 errors as provider.ErrNotFound while
// preserving other errors.
func wrapNotFound(err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return provider.ErrNotFound
	}
	return err
}

// Verify Backend implements Host at compile time.
var _ provider.Host = (*Backend)(nil)
