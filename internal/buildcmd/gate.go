// Package buildcmd runs a project's build/test commands as a pass/fail gate.
package buildcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Gate executes build/test commands with a bounded timeout per command and
// caps the output surfaced to callers.
type Gate struct {
	// Timeout bounds each individual command.
	Timeout time.Duration
	// MaxOutput is the byte cap applied to the combined output before it is
	// surfaced in a PR comment.
	MaxOutput int
}

// Result is the outcome of one gate run.
type Result struct {
	OK bool
	// FailedCommand is the command that broke the run, empty when OK.
	FailedCommand string
	// Output is the (truncated) combined output of the failing command, or
	// of all commands when everything passed.
	Output string
}

// Run executes each command in order inside dir, stopping at the first
// failure. A command timing out counts as a failure, not an error; err is
// reserved for the gate itself being unrunnable.
func (g *Gate) Run(ctx context.Context, dir string, commands []string) (Result, error) {
	var combined strings.Builder

	for _, command := range commands {
		out, err := g.runOne(ctx, dir, command)
		combined.WriteString(out)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Result{}, ctx.Err()
			}
			slog.Info("build gate failed", "command", command, "error", err)
			return Result{
				OK:            false,
				FailedCommand: command,
				Output:        g.truncate(fmt.Sprintf("$ %s\n%s\n%v", command, out, err)),
			}, nil
		}
	}

	return Result{OK: true, Output: g.truncate(combined.String())}, nil
}

func (g *Gate) runOne(ctx context.Context, dir, command string) (string, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("command timed out after %s", timeout)
	}
	return string(out), err
}

// truncate keeps the tail of the output — failures tend to live at the end.
func (g *Gate) truncate(s string) string {
	max := g.MaxOutput
	if max <= 0 {
		max = 8000
	}
	if len(s) <= max {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-max:]
}
