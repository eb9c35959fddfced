package agent

import (
	"regexp"
	"strings"
)

// fencedJSON matches the first ```json (or bare ```) fenced block.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls a JSON object out of free-form agent text: the first
// fenced JSON block wins, else the span from the first '{' to the last '}'.
// The second return is false when neither is present.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)

	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" {
			return candidate, true
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
