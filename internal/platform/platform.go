// Package platform detects a PR's target platform from its changed files.
package platform

import (
	"path/filepath"
	"strings"
)

// Platform is a known build/test target.
type Platform string

const (
	Golang     Platform = "golang"
	TypeScript Platform = "typescript"
	JavaScript Platform = "javascript"
	Python     Platform = "python"
	Rust       Platform = "rust"
	Java       Platform = "java"
	Ruby       Platform = "ruby"
	CSharp     Platform = "csharp"
)

// byExtension maps file extensions to platforms.
var byExtension = map[string]Platform{
	".go":   Golang,
	".ts":   TypeScript,
	".tsx":  TypeScript,
	".js":   JavaScript,
	".jsx":  JavaScript,
	".py":   Python,
	".rs":   Rust,
	".java": Java,
	".rb":   Ruby,
	".cs":   CSharp,
}

// Detect picks the platform by plurality vote over the changed files'
// extensions. Ties break toward the extension seen first in the input. The
// second return is false when no extension maps to a known platform.
func Detect(files []string) (Platform, bool) {
	counts := make(map[Platform]int)
	var order []Platform

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		p, ok := byExtension[ext]
		if !ok {
			continue
		}
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}

	var winner Platform
	best := 0
	for _, p := range order {
		if counts[p] > best {
			winner = p
			best = counts[p]
		}
	}
	if best == 0 {
		return "", false
	}
	return winner, true
}

// BuildCommands returns the default build/test command list the gate runs
// for a platform. Projects that declare their own commands override these.
func (p Platform) BuildCommands() []string {
	switch p {
	case Golang:
		return []string{"go build ./...", "go test ./..."}
	case TypeScript, JavaScript:
		return []string{"npm ci", "npm test --if-present"}
	case Python:
		return []string{"python -m compileall .", "python -m pytest"}
	case Rust:
		return []string{"cargo build", "cargo test"}
	case Java:
		return []string{"mvn -B verify"}
	case Ruby:
		return []string{"bundle install", "bundle exec rake test"}
	case CSharp:
		return []string{"dotnet build", "dotnet test"}
	}
	return nil
}
