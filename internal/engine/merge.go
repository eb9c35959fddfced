package engine

import (
	"strings"

	"github.com/shepherdbot/shepherd/internal/agent"
)

// dedupeLineWindow is how close two line numbers must be for two comments
// with the same path and identical bodies to count as duplicates.
const dedupeLineWindow = 2

// Merged is the single source of truth after combining the two review
// passes.
type Merged struct {
	Comments []agent.ReviewComment
	// Verdicts is keyed by threadId; where both passes ruled on a thread,
	// the architecture pass's verdict is retained.
	Verdicts                 map[string]agent.ThreadVerdict
	ArchitectureUpdateNeeded agent.ArchitectureUpdate
	Summary                  string
}

// MergeResults combines the architecture and detailed passes into one
// reviewer verdict. Comments are concatenated architecture-first and
// deduplicated with first-occurrence-wins, so a near-duplicate raised by
// both passes survives as the architecture pass's copy.
func MergeResults(arch, detail agent.ReviewResult) Merged {
	var comments []agent.ReviewComment
	for _, c := range append(append([]agent.ReviewComment{}, arch.NewComments...), detail.NewComments...) {
		if !containsDuplicate(comments, c) {
			comments = append(comments, c)
		}
	}

	// Detail first, architecture last: last writer wins per thread.
	verdicts := make(map[string]agent.ThreadVerdict)
	for _, v := range detail.ThreadResponses {
		verdicts[v.ThreadID] = v
	}
	for _, v := range arch.ThreadResponses {
		verdicts[v.ThreadID] = v
	}

	var summaries []string
	for _, s := range []string{arch.Summary, detail.Summary} {
		if strings.TrimSpace(s) != "" {
			summaries = append(summaries, strings.TrimSpace(s))
		}
	}
	summary := strings.Join(summaries, "\n\n---\n\n")
	if summary == "" {
		summary = "Review complete."
	}

	return Merged{
		Comments:                 comments,
		Verdicts:                 verdicts,
		ArchitectureUpdateNeeded: arch.ArchitectureUpdateNeeded,
		Summary:                  summary,
	}
}

func containsDuplicate(kept []agent.ReviewComment, c agent.ReviewComment) bool {
	for _, k := range kept {
		if k.Path != c.Path || k.Body != c.Body {
			continue
		}
		delta := k.Line - c.Line
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupeLineWindow {
			return true
		}
	}
	return false
}
