// Package prompts loads the instruction documents handed to the external
// agent. Documents are embedded in the binary; a user can override any of
// them by dropping a same-named file into ~/.config/shepherd/prompts/.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed *.md
var builtin embed.FS

// Document names accepted by Load.
const (
	ReviewBase         = "review-base"
	ReviewArchitecture = "review-architecture"
	ReviewDetailed     = "review-detailed"
	Fix                = "fix"
	ConflictResolve    = "conflict-resolve"
)

// overrideDir is swapped out by tests.
var overrideDir = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "shepherd", "prompts")
}

// Load returns the named instruction document, preferring a user override
// over the embedded copy.
func Load(name string) (string, error) {
	file := name + ".md"

	if dir := overrideDir(); dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, file)); err == nil {
			return string(data), nil
		}
	}

	data, err := builtin.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("unknown instruction document %q: %w", name, err)
	}
	return string(data), nil
}

// Compose concatenates the named documents in order, separated by blank
// lines. Used to layer a pass-specific document onto the shared base.
func Compose(names ...string) (string, error) {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		doc, err := Load(name)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimRight(doc, "\n"))
	}
	return strings.Join(parts, "\n\n"), nil
}
