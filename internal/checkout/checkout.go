// Package checkout manages the per-run working copies the pipelines build
// and fix code in. Every pipeline run gets its own uniquely named directory,
// so concurrent runs never write the same files; old directories are pruned
// oldest-first beyond a retention count.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/shepherdbot/shepherd/internal/provider"
)

// Manager creates and prunes checkouts under a single root.
type Manager struct {
	Root   string
	Retain int
	// Token authenticates clone/push; empty means anonymous.
	Token string
	// BotName and BotEmail form the commit identity for pushed fixes.
	BotName  string
	BotEmail string
	// Timeout bounds each git command.
	Timeout time.Duration
}

// Checkout is one working copy of a PR's head branch.
type Checkout struct {
	dir        string
	headBranch string
	baseBranch string
	mgr        *Manager
}

// Acquire clones the PR's head branch into a fresh uniquely named directory
// and fetches the base branch.
func (m *Manager) Acquire(ctx context.Context, pr provider.PullRequest) (*Checkout, error) {
	if err := os.MkdirAll(m.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating checkout root: %w", err)
	}

	dir := filepath.Join(m.Root, fmt.Sprintf("%s__%s__%d__%d", pr.Owner, pr.Repo, pr.Number, time.Now().UnixNano()))

	cloneURL := fmt.Sprintf("https://github.com/%s/%s.git", pr.Owner, pr.Repo)
	if m.Token != "" {
		cloneURL = fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", m.Token, pr.Owner, pr.Repo)
	}

	if out, err := m.git(ctx, "", "clone", "--branch", pr.HeadBranch, cloneURL, dir); err != nil {
		return nil, fmt.Errorf("cloning %s/%s@%s: %s: %w", pr.Owner, pr.Repo, pr.HeadBranch, out, err)
	}

	co := &Checkout{dir: dir, headBranch: pr.HeadBranch, baseBranch: pr.BaseBranch, mgr: m}

	if out, err := m.git(ctx, dir, "fetch", "origin", pr.BaseBranch); err != nil {
		return nil, fmt.Errorf("fetching base branch %s: %s: %w", pr.BaseBranch, out, err)
	}

	return co, nil
}

// Dir returns the working directory path.
func (c *Checkout) Dir() string {
	return c.dir
}

// ChangedFiles returns the paths this branch changed relative to the merge
// base with the base branch.
func (c *Checkout) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := c.mgr.git(ctx, c.dir, "diff", "--name-only", "origin/"+c.baseBranch+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("diffing against base: %s: %w", out, err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// HasLocalChanges reports whether the working tree has uncommitted changes.
func (c *Checkout) HasLocalChanges(ctx context.Context) (bool, error) {
	out, err := c.mgr.git(ctx, c.dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// DryRunMerge tests whether merging the base branch would conflict, leaving
// the tree untouched either way. Returns the conflicted paths when it would.
func (c *Checkout) DryRunMerge(ctx context.Context) (conflicts []string, err error) {
	out, mergeErr := c.mgr.git(ctx, c.dir, "merge", "--no-commit", "--no-ff", "origin/"+c.baseBranch)
	if mergeErr == nil {
		// Clean merge — undo it so the caller decides when to merge for real.
		if abortOut, abortErr := c.mgr.git(ctx, c.dir, "merge", "--abort"); abortErr != nil {
			// A fast-forward or empty merge leaves nothing to abort.
			slog.Debug("merge abort after clean dry run", "output", abortOut, "error", abortErr)
			_, _ = c.mgr.git(ctx, c.dir, "reset", "--hard", "HEAD")
		}
		return nil, nil
	}

	files, listErr := c.conflictedPaths(ctx)
	if listErr != nil || len(files) == 0 {
		_, _ = c.mgr.git(ctx, c.dir, "merge", "--abort")
		return nil, fmt.Errorf("dry-run merge failed without conflicts: %s: %w", out, mergeErr)
	}

	if _, err := c.mgr.git(ctx, c.dir, "merge", "--abort"); err != nil {
		return nil, fmt.Errorf("aborting dry-run merge: %w", err)
	}
	return files, nil
}

// BeginMerge starts a real merge of the base branch, leaving conflict
// markers in the tree for the agent to resolve. Returns the conflicted paths.
func (c *Checkout) BeginMerge(ctx context.Context) ([]string, error) {
	if _, err := c.mgr.git(ctx, c.dir, "merge", "--no-commit", "--no-ff", "origin/"+c.baseBranch); err == nil {
		// No conflicts after all; keep the merged state uncommitted.
		return nil, nil
	}
	return c.conflictedPaths(ctx)
}

// conflictedPaths lists files still in the unmerged state.
func (c *Checkout) conflictedPaths(ctx context.Context) ([]string, error) {
	out, err := c.mgr.git(ctx, c.dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("listing conflicted files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ConflictMarkersPresent scans the working tree for leftover conflict
// markers and returns the files still carrying them.
func (c *Checkout) ConflictMarkersPresent() ([]string, error) {
	return ScanConflictMarkers(c.dir)
}

// ScanConflictMarkers walks a tree looking for git conflict markers at line
// starts. The .git directory is skipped.
func ScanConflictMarkers(root string) ([]string, error) {
	var marked []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if hasConflictMarker(string(data)) {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			marked = append(marked, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning for conflict markers: %w", err)
	}
	sort.Strings(marked)
	return marked, nil
}

func hasConflictMarker(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<< ") || strings.HasPrefix(line, ">>>>>>> ") {
			return true
		}
	}
	return false
}

// AbortMerge abandons an in-progress merge.
func (c *Checkout) AbortMerge(ctx context.Context) error {
	if out, err := c.mgr.git(ctx, c.dir, "merge", "--abort"); err != nil {
		return fmt.Errorf("aborting merge: %s: %w", out, err)
	}
	return nil
}

// CompleteMerge stages everything and finishes the merge commit.
func (c *Checkout) CompleteMerge(ctx context.Context) error {
	if out, err := c.mgr.git(ctx, c.dir, "add", "-A"); err != nil {
		return fmt.Errorf("staging merge resolution: %s: %w", out, err)
	}
	if out, err := c.gitWithIdentity(ctx, "commit", "--no-edit"); err != nil {
		return fmt.Errorf("committing merge: %s: %w", out, err)
	}
	return nil
}

// CommitAndPush stages all changes, commits with the bot identity, and
// pushes to the head branch. Returns the short commit hash.
func (c *Checkout) CommitAndPush(ctx context.Context, message string) (string, error) {
	dirty, err := c.HasLocalChanges(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		// A completed merge commit with no further edits still needs pushing.
		ahead, err := c.mgr.git(ctx, c.dir, "rev-list", "--count", "origin/"+c.headBranch+"..HEAD")
		if err != nil || strings.TrimSpace(ahead) == "0" {
			return "", fmt.Errorf("no changes to commit")
		}
	} else {
		if out, err := c.mgr.git(ctx, c.dir, "add", "-A"); err != nil {
			return "", fmt.Errorf("git add: %s: %w", out, err)
		}
		if out, err := c.gitWithIdentity(ctx, "commit", "-m", message); err != nil {
			return "", fmt.Errorf("git commit: %s: %w", out, err)
		}
	}

	hashOut, err := c.mgr.git(ctx, c.dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	hash := strings.TrimSpace(hashOut)

	// Explicit refspec so the push works regardless of HEAD state.
	refspec := fmt.Sprintf("HEAD:refs/heads/%s", strings.TrimPrefix(c.headBranch, "refs/heads/"))
	if out, err := c.mgr.git(ctx, c.dir, "push", "origin", refspec); err != nil {
		return "", fmt.Errorf("git push: %s: %w", out, err)
	}

	if len(hash) > 8 {
		hash = hash[:8]
	}
	return hash, nil
}

// gitWithIdentity runs a git command with the bot's commit identity.
func (c *Checkout) gitWithIdentity(ctx context.Context, args ...string) (string, error) {
	name := c.mgr.BotName
	if name == "" {
		name = "shepherd[bot]"
	}
	email := c.mgr.BotEmail
	if email == "" {
		email = "shepherd-bot@users.noreply.github.com"
	}
	full := append([]string{"-c", "user.name=" + name, "-c", "user.email=" + email}, args...)
	return c.mgr.git(ctx, c.dir, full...)
}

// Prune removes checkout directories beyond the retention count, oldest
// first by directory modification time. A file lock serializes pruning
// across processes; racing with a live run is harmless because directory
// names are disjoint.
func (m *Manager) Prune() error {
	retain := m.Retain
	if retain <= 0 {
		retain = 5
	}

	lock := flock.New(filepath.Join(m.Root, ".prune.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		// Another process is pruning; nothing for us to do.
		return nil
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading checkout root: %w", err)
	}

	type dirInfo struct {
		name string
		mod  time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: e.Name(), mod: info.ModTime()})
	}

	if len(dirs) <= retain {
		return nil
	}

	// Newest first; everything past the retention count goes.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })
	for _, d := range dirs[retain:] {
		path := filepath.Join(m.Root, d.name)
		slog.Debug("pruning checkout", "dir", d.name)
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to prune checkout", "dir", d.name, "error", err)
		}
	}
	return nil
}

// git runs one git command with the manager's timeout.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
