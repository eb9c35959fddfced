package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectPlurality(t *testing.T) {
	p, ok := Detect([]string{"a.go", "b.go", "c.ts"})
	assert.True(t, ok)
	assert.Equal(t, Golang, p)
}

func TestDetectTieBreaksFirstSeen(t *testing.T) {
	p, ok := Detect([]string{"one.ts", "two.go"})
	assert.True(t, ok)
	assert.Equal(t, TypeScript, p)

	p, ok = Detect([]string{"two.go", "one.ts"})
	assert.True(t, ok)
	assert.Equal(t, Golang, p)
}

func TestDetectNothingKnown(t *testing.T) {
	_, ok := Detect(nil)
	assert.False(t, ok)

	_, ok = Detect([]string{"README.md", "Dockerfile", "img.png"})
	assert.False(t, ok)
}

func TestDetectIgnoresUnmappedMajority(t *testing.T) {
	// Three markdown files lose to a single source file.
	p, ok := Detect([]string{"a.md", "b.md", "c.md", "main.rs"})
	assert.True(t, ok)
	assert.Equal(t, Rust, p)
}

func TestDetectCaseInsensitiveExtensions(t *testing.T) {
	p, ok := Detect([]string{"Program.CS"})
	assert.True(t, ok)
	assert.Equal(t, CSharp, p)
}

func TestBuildCommandsNonEmptyForKnownPlatforms(t *testing.T) {
	for _, p := range []Platform{Golang, TypeScript, JavaScript, Python, Rust, Java, Ruby, CSharp} {
		assert.NotEmpty(t, p.BuildCommands(), "platform %s", p)
	}
	assert.Empty(t, Platform("cobol").BuildCommands())
}
