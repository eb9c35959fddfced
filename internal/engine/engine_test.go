package engine

import (
	"context"
	"time"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/buildcmd"
	"github.com/shepherdbot/shepherd/internal/config"
	"github.com/shepherdbot/shepherd/internal/provider"
)

// fakeWorkspace is a scripted Workspace for pipeline tests.
type fakeWorkspace struct {
	dir string

	dirty       bool
	dryConflict []string
	mergeFiles  []string
	markers     []string
	pushHash    string
	pushErr     error

	aborted   bool
	completed bool
	pushed    bool
}

func (f *fakeWorkspace) Dir() string                                        { return f.dir }
func (f *fakeWorkspace) ChangedFiles(context.Context) ([]string, error)     { return nil, nil }
func (f *fakeWorkspace) HasLocalChanges(context.Context) (bool, error)      { return f.dirty, nil }
func (f *fakeWorkspace) DryRunMerge(context.Context) ([]string, error)      { return f.dryConflict, nil }
func (f *fakeWorkspace) BeginMerge(context.Context) ([]string, error)       { return f.mergeFiles, nil }
func (f *fakeWorkspace) ConflictMarkersPresent() ([]string, error)          { return f.markers, nil }
func (f *fakeWorkspace) AbortMerge(context.Context) error                   { f.aborted = true; return nil }
func (f *fakeWorkspace) CompleteMerge(context.Context) error                { f.completed = true; return nil }
func (f *fakeWorkspace) CommitAndPush(context.Context, string) (string, error) {
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.pushed = true
	return f.pushHash, nil
}

// fakeCheckouts hands out one scripted workspace.
type fakeCheckouts struct {
	ws     *fakeWorkspace
	err    error
	pruned int
}

func (f *fakeCheckouts) Acquire(context.Context, provider.PullRequest) (Workspace, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ws, nil
}

func (f *fakeCheckouts) Prune() error {
	f.pruned++
	return nil
}

// fakeGate returns a canned result and counts invocations.
type fakeGate struct {
	res   buildcmd.Result
	err   error
	calls int
}

func (f *fakeGate) Run(context.Context, string, []string) (buildcmd.Result, error) {
	f.calls++
	return f.res, f.err
}

func testPR() provider.PullRequest {
	return provider.PullRequest{
		Owner:      "acme",
		Repo:       "widgets",
		Number:     7,
		Title:      "Add frobnicator",
		HeadBranch: "feature/frob",
		BaseBranch: "main",
		HeadSHA:    "abc123",
	}
}

// newTestEngine wires an Engine from fakes. The gate passes by default.
func newTestEngine(host *provider.MockHost, runner *agent.MockRunner, checkouts *fakeCheckouts, gate *fakeGate) *Engine {
	cfg := config.DefaultConfig()
	cfg.GitHub.Owner = "acme"
	cfg.GitHub.Repos = []string{"widgets"}

	if checkouts == nil {
		checkouts = &fakeCheckouts{ws: &fakeWorkspace{dir: "/tmp/ws"}}
	}
	if gate == nil {
		gate = &fakeGate{res: buildcmd.Result{OK: true}}
	}
	return &Engine{
		cfg:       &cfg,
		host:      host,
		runner:    runner,
		checkouts: checkouts,
		gate:      gate,
		registry:  newRegistry(),
		trigger:   make(chan struct{}, 1),
		now:       time.Now,
	}
}
