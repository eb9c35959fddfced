package provider

import (
	"context"
	"sync"
	"time"
)

// MockHost is an in-memory Host for tests. It models a single repository's
// PRs, labels, and comments, and records every mutation.
type MockHost struct {
	mu sync.Mutex

	PRs          map[int]*PullRequest
	Labels       map[int]map[string]bool
	Comments     map[int][]Comment
	ChangedFiles map[int][]string
	CheckRuns    map[string][]CheckRun
	Statuses     map[string][]CommitStatus
	CommitTimes  map[string]time.Time

	// DeletedComments holds comment IDs that now return ErrNotFound on reply.
	DeletedComments map[int64]bool

	// ResolvedThreads records comment IDs whose threads were resolved.
	ResolvedThreads map[int64]bool

	// ReviewErr, when set, fails batch CreateReview calls.
	ReviewErr error
	// InlineErrs fails CreateInlineComment for specific paths.
	InlineErrs map[string]error

	nextCommentID int64
}

// NewMockHost returns an empty MockHost.
func NewMockHost() *MockHost {
	return &MockHost{
		PRs:             make(map[int]*PullRequest),
		Labels:          make(map[int]map[string]bool),
		Comments:        make(map[int][]Comment),
		ChangedFiles:    make(map[int][]string),
		CheckRuns:       make(map[string][]CheckRun),
		Statuses:        make(map[string][]CommitStatus),
		CommitTimes:     make(map[string]time.Time),
		DeletedComments: make(map[int64]bool),
		ResolvedThreads: make(map[int64]bool),
		InlineErrs:      make(map[string]error),
		nextCommentID:   1000,
	}
}

// AddPR registers a PR with an initial label.
func (m *MockHost) AddPR(pr PullRequest, initialLabel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := pr
	m.PRs[pr.Number] = &cp
	m.Labels[pr.Number] = map[string]bool{}
	if initialLabel != "" {
		m.Labels[pr.Number][initialLabel] = true
	}
}

func (m *MockHost) ListPRsByLabel(_ context.Context, _, _ string, labelName string) ([]PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PullRequest
	for num, labels := range m.Labels {
		if labels[labelName] {
			out = append(out, *m.PRs[num])
		}
	}
	return out, nil
}

func (m *MockHost) GetPR(_ context.Context, _, _ string, number int) (*PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.PRs[number]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (m *MockHost) ListChangedFiles(_ context.Context, _, _ string, number int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ChangedFiles[number]...), nil
}

func (m *MockHost) AddLabel(_ context.Context, _, _ string, number int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Labels[number] == nil {
		m.Labels[number] = map[string]bool{}
	}
	m.Labels[number][name] = true
	return nil
}

func (m *MockHost) RemoveLabel(_ context.Context, _, _ string, number int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Labels[number][name] {
		return ErrNotFound
	}
	delete(m.Labels[number], name)
	return nil
}

func (m *MockHost) ListComments(_ context.Context, _, _ string, number int) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Comment(nil), m.Comments[number]...), nil
}

func (m *MockHost) CreateComment(_ context.Context, _, _ string, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCommentID++
	m.Comments[number] = append(m.Comments[number], Comment{
		ID:        m.nextCommentID,
		ThreadID:  m.nextCommentID,
		Author:    "shepherd[bot]",
		Body:      body,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MockHost) CreateReview(_ context.Context, _, _ string, number int, _ string, comments []ReviewComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReviewErr != nil {
		return m.ReviewErr
	}
	for _, c := range comments {
		m.nextCommentID++
		m.Comments[number] = append(m.Comments[number], Comment{
			ID:        m.nextCommentID,
			ThreadID:  m.nextCommentID,
			Author:    "shepherd[bot]",
			Body:      c.Body,
			Path:      c.Path,
			Line:      c.Line,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

func (m *MockHost) CreateInlineComment(_ context.Context, _, _ string, number int, _ string, c ReviewComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.InlineErrs[c.Path]; err != nil {
		return err
	}
	m.nextCommentID++
	m.Comments[number] = append(m.Comments[number], Comment{
		ID:        m.nextCommentID,
		ThreadID:  m.nextCommentID,
		Author:    "shepherd[bot]",
		Body:      c.Body,
		Path:      c.Path,
		Line:      c.Line,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MockHost) ReplyToComment(_ context.Context, _, _ string, number int, commentID int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeletedComments[commentID] {
		return ErrNotFound
	}
	found := false
	for _, c := range m.Comments[number] {
		if c.ID == commentID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	m.nextCommentID++
	m.Comments[number] = append(m.Comments[number], Comment{
		ID:        m.nextCommentID,
		ThreadID:  commentID,
		Author:    "shepherd[bot]",
		Body:      body,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MockHost) ResolveThread(_ context.Context, _, _ string, number int, commentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeletedComments[commentID] {
		return ErrNotFound
	}
	for _, c := range m.Comments[number] {
		if c.ID == commentID {
			m.ResolvedThreads[commentID] = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockHost) ListCheckRuns(_ context.Context, _, _ string, ref string) ([]CheckRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CheckRun(nil), m.CheckRuns[ref]...), nil
}

func (m *MockHost) ListStatuses(_ context.Context, _, _ string, ref string) ([]CommitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommitStatus(nil), m.Statuses[ref]...), nil
}

func (m *MockHost) GetCommitTime(_ context.Context, _, _ string, ref string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.CommitTimes[ref]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return t, nil
}

// LabelsOn returns the current label set for a PR (test helper).
func (m *MockHost) LabelsOn(number int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for l, on := range m.Labels[number] {
		if on {
			out = append(out, l)
		}
	}
	return out
}

// Verify MockHost implements Host at compile time.
var _ Host = (*MockHost)(nil)
