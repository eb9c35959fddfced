// Package engine is the label-driven orchestration core. The dispatch loop
// polls the host for PRs in each label category and runs the matching
// pipeline; every pipeline leaves its outcome as a label transition, which
// becomes the input to the next poll. All durable state lives on the host
// (labels, comment tags, commit timestamps), so any pipeline can be
// re-entered safely after a crash.
package engine

import (
	"context"
	"time"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/buildcmd"
	"github.com/shepherdbot/shepherd/internal/checkout"
	"github.com/shepherdbot/shepherd/internal/config"
	"github.com/shepherdbot/shepherd/internal/provider"
)

// Workspace is the slice of checkout behavior the pipelines use.
// *checkout.Checkout satisfies it.
type Workspace interface {
	Dir() string
	ChangedFiles(ctx context.Context) ([]string, error)
	HasLocalChanges(ctx context.Context) (bool, error)
	DryRunMerge(ctx context.Context) ([]string, error)
	BeginMerge(ctx context.Context) ([]string, error)
	ConflictMarkersPresent() ([]string, error)
	AbortMerge(ctx context.Context) error
	CompleteMerge(ctx context.Context) error
	CommitAndPush(ctx context.Context, message string) (string, error)
}

// CheckoutProvider hands out working copies and prunes old ones.
type CheckoutProvider interface {
	Acquire(ctx context.Context, pr provider.PullRequest) (Workspace, error)
	Prune() error
}

// gateRunner is the build/test gate seam; *buildcmd.Gate satisfies it.
type gateRunner interface {
	Run(ctx context.Context, dir string, commands []string) (buildcmd.Result, error)
}

// Engine drives the poll/dispatch/pipeline cycle for every watched repo.
type Engine struct {
	cfg       *config.Config
	host      provider.Host
	runner    agent.Runner
	checkouts CheckoutProvider
	gate      gateRunner
	registry  *registry
	trigger   chan struct{}

	// now is a seam for CI timeout tests.
	now func() time.Time
}

// New wires an Engine from its collaborators.
func New(cfg *config.Config, host provider.Host, runner agent.Runner, checkouts CheckoutProvider) *Engine {
	return &Engine{
		cfg:       cfg,
		host:      host,
		runner:    runner,
		checkouts: checkouts,
		gate: &buildcmd.Gate{
			Timeout:   cfg.Gate.ParseCommandTimeout(),
			MaxOutput: cfg.Gate.MaxOutput,
		},
		registry: newRegistry(),
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// managerProvider adapts *checkout.Manager to the CheckoutProvider seam.
type managerProvider struct {
	m *checkout.Manager
}

func (p managerProvider) Acquire(ctx context.Context, pr provider.PullRequest) (Workspace, error) {
	return p.m.Acquire(ctx, pr)
}

func (p managerProvider) Prune() error {
	return p.m.Prune()
}

// WrapManager makes a checkout.Manager usable as the Engine's
// CheckoutProvider.
func WrapManager(m *checkout.Manager) CheckoutProvider {
	return managerProvider{m: m}
}
