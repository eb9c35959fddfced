package agent

import (
	"encoding/json"
	"log/slog"
)

// ReviewComment is one new piece of feedback from a review pass. Path may be
// empty for free-standing feedback; Line 0 means no line anchor.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// ThreadVerdict disposes of a previously unresolved feedback thread.
type ThreadVerdict struct {
	ThreadID string `json:"thread_id"`
	Resolved bool   `json:"resolved"`
	Response string `json:"response"`
}

// ArchitectureUpdate flags that the structural pass wants an architecture
// document refreshed.
type ArchitectureUpdate struct {
	Needed bool   `json:"needed"`
	Reason string `json:"reason"`
}

// ReviewResult is the payload of one review pass.
type ReviewResult struct {
	Summary                  string             `json:"summary"`
	NewComments              []ReviewComment    `json:"new_comments"`
	ThreadResponses          []ThreadVerdict    `json:"thread_responses"`
	ArchitectureUpdateNeeded ArchitectureUpdate `json:"architecture_update_needed"`
}

// ThreadFix records one thread the fix pass claims to have addressed.
type ThreadFix struct {
	ThreadID    string `json:"thread_id"`
	Explanation string `json:"explanation"`
}

// FixResult is the payload of a fix pass.
type FixResult struct {
	ThreadsAddressed []ThreadFix `json:"threads_addressed"`
	BuildPassed      bool        `json:"build_passed"`
	Summary          string      `json:"summary"`
}

// ConflictFile records one file the conflict pass claims to have resolved.
type ConflictFile struct {
	File        string `json:"file"`
	Explanation string `json:"explanation"`
}

// ConflictResult is the payload of a conflict-resolution pass.
type ConflictResult struct {
	ConflictsResolved []ConflictFile `json:"conflicts_resolved"`
	BuildPassed       bool           `json:"build_passed"`
	Summary           string         `json:"summary"`
}

// ParseReviewResult decodes a review-pass payload from raw agent text.
// Malformed or missing JSON degrades to the zero result — the pipeline
// treats it as "pass found nothing" rather than failing.
func ParseReviewResult(text string) ReviewResult {
	return decode[ReviewResult](text)
}

// ParseFixResult decodes a fix-pass payload from raw agent text.
func ParseFixResult(text string) FixResult {
	return decode[FixResult](text)
}

// ParseConflictResult decodes a conflict-pass payload from raw agent text.
func ParseConflictResult(text string) ConflictResult {
	return decode[ConflictResult](text)
}

func decode[T any](text string) T {
	var zero T
	payload, ok := ExtractJSON(text)
	if !ok {
		slog.Warn("agent output carried no JSON payload", "preview", truncate(text, 200))
		return zero
	}
	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		slog.Warn("agent JSON payload did not decode", "error", err, "preview", truncate(payload, 200))
		return zero
	}
	return result
}
