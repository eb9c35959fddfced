// Package tag encodes and decodes the identifier footer shepherd appends to
// every comment it posts. The footer is the only durable record of which
// feedback threads exist and which review cycle produced them, so all
// crash-recovery logic goes through this codec.
package tag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Tag identifies one bot-authored comment: the feedback thread it belongs to
// and, when produced by a review pass, the cycle that minted it.
type Tag struct {
	ThreadID string
	CycleID  string
}

// footerPattern matches a shepherd footer anywhere in a comment body. The
// marker is wrapped in an HTML comment so it renders invisibly on the host
// while staying greppable.
var footerPattern = regexp.MustCompile(`<!--\s*shepherd\s+thread::([0-9a-fA-F-]{36})(?:\s*\|\s*review::([0-9a-fA-F-]{36}))?\s*-->`)

// cyclePattern matches just the review/cycle identifier, used for counting.
var cyclePattern = regexp.MustCompile(`review::([0-9a-fA-F-]{36})`)

// New mints a Tag with a fresh thread identifier bound to the given cycle.
// cycleID may be empty for comments outside a review pass (gate failures,
// hand-off notices).
func New(cycleID string) Tag {
	return Tag{ThreadID: uuid.NewString(), CycleID: cycleID}
}

// NewCycleID mints a fresh cycle identifier shared by all comments of one
// review pipeline run.
func NewCycleID() string {
	return uuid.NewString()
}

// Footer renders the trailing marker for this tag.
func (t Tag) Footer() string {
	if t.CycleID == "" {
		return fmt.Sprintf("<!-- shepherd thread::%s -->", t.ThreadID)
	}
	return fmt.Sprintf("<!-- shepherd thread::%s | review::%s -->", t.ThreadID, t.CycleID)
}

// Append returns body with the tag footer appended.
func Append(body string, t Tag) string {
	return strings.TrimRight(body, "\n") + "\n\n" + t.Footer()
}

// Parse extracts a Tag from a comment body. The second return is false when
// the body carries no recognizable footer; such comments are not bot-owned
// and must be ignored by recovery logic.
func Parse(body string) (Tag, bool) {
	m := footerPattern.FindStringSubmatch(body)
	if m == nil {
		return Tag{}, false
	}
	return Tag{ThreadID: strings.ToLower(m[1]), CycleID: strings.ToLower(m[2])}, true
}

// CountCycles returns the number of distinct review/cycle identifiers found
// across the given comment bodies. This recomputation is the sole source of
// truth for how many fix/review cycles a PR has been through.
func CountCycles(bodies []string) int {
	seen := make(map[string]bool)
	for _, body := range bodies {
		for _, m := range cyclePattern.FindAllStringSubmatch(body, -1) {
			seen[strings.ToLower(m[1])] = true
		}
	}
	return len(seen)
}
