package buildcmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllPass(t *testing.T) {
	g := &Gate{Timeout: 10 * time.Second, MaxOutput: 8000}

	res, err := g.Run(context.Background(), t.TempDir(), []string{"echo building", "echo testing"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Output, "building")
	assert.Contains(t, res.Output, "testing")
	assert.Empty(t, res.FailedCommand)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	g := &Gate{Timeout: 10 * time.Second, MaxOutput: 8000}

	res, err := g.Run(context.Background(), t.TempDir(), []string{
		"echo step one",
		"echo boom && exit 3",
		"echo never reached",
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "echo boom && exit 3", res.FailedCommand)
	assert.Contains(t, res.Output, "boom")
	assert.NotContains(t, res.Output, "never reached")
}

func TestRunCommandTimeoutIsFailure(t *testing.T) {
	g := &Gate{Timeout: 100 * time.Millisecond, MaxOutput: 8000}

	res, err := g.Run(context.Background(), t.TempDir(), []string{"sleep 5"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, "timed out")
}

func TestTruncateKeepsTail(t *testing.T) {
	g := &Gate{MaxOutput: 50}

	long := strings.Repeat("x", 200) + "THE-ERROR"
	got := g.truncate(long)
	assert.Contains(t, got, "THE-ERROR")
	assert.Contains(t, got, "truncated")
	assert.LessOrEqual(t, len(got), 50+len("...(truncated)...\n"))
}
