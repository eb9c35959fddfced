package agent

import (
	"context"
	"sync"
)

// MockRunner is an in-memory Runner for tests. Responses are returned in
// order; the final entry repeats once exhausted.
type MockRunner struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	// Calls records every invocation's user message for assertions.
	Calls []string

	next int
}

// Run returns the next canned response.
func (m *MockRunner) Run(_ context.Context, _ string, _ string, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, message)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.next++
	return m.Responses[idx], nil
}

// CallCount returns how many times the runner was invoked.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Verify MockRunner implements Runner at compile time.
var _ Runner = (*MockRunner)(nil)
