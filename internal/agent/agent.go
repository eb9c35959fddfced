// Package agent invokes the external analysis/fix agent as an opaque
// process and decodes its free-form output into per-invocation-kind result
// schemas. The decoding boundary is deliberately permissive: the agent's
// text might be garbage, and a failed parse degrades to an empty result
// rather than aborting a pipeline.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner runs the agent once in a working directory with an instruction
// document and a task-specific user message, returning the raw text blob
// the agent produced.
type Runner interface {
	Run(ctx context.Context, workDir, instructions, message string) (string, error)
}

// ExecRunner invokes a configured binary. The instruction document and user
// message are concatenated onto stdin; stdout is the agent's response.
type ExecRunner struct {
	Bin  string
	Args []string
}

// Run executes the agent and waits for completion. The caller bounds the
// invocation with a context deadline; exceeding it kills the process and
// surfaces as an ordinary error.
func (r *ExecRunner) Run(ctx context.Context, workDir, instructions, message string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Bin, r.Args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(instructions + "\n\n" + message)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("agent invocation finished", "bin", r.Bin, "duration", time.Since(start).Round(time.Second), "error", err)

	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("agent exited with error: %s: %w", truncate(stderr.String(), 500), err)
	}
	return stdout.String(), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
