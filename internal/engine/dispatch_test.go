package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/label"
	"github.com/shepherdbot/shepherd/internal/provider"
)

func TestDispatchSkipsInFlightPR(t *testing.T) {
	host := provider.NewMockHost()
	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)
	pr := testPR()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs int
	var mu sync.Mutex

	p := pipeline{label: label.ReviewNeeded, name: "review", run: func(context.Context, provider.PullRequest) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}}

	e.dispatch(context.Background(), pr, p)
	<-started

	// Second poll tick observes the same PR while the first run is still
	// outstanding; it must not dispatch again.
	e.dispatch(context.Background(), pr, p)

	close(release)
	require.Eventually(t, func() bool { return e.registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}

func TestDispatchRemovesKeyOnError(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ReviewNeeded))
	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)

	p := pipeline{label: label.ReviewNeeded, name: "review", run: func(context.Context, provider.PullRequest) error {
		return errors.New("boom")
	}}

	e.dispatch(context.Background(), pr, p)
	require.Eventually(t, func() bool { return e.registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	// The key is reusable afterward.
	assert.True(t, e.registry.TryAdd(pr.Key()))
}

func TestDispatchErrorPostsCommentAndParks(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.ReviewNeeded))
	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)

	p := pipeline{label: label.ReviewNeeded, name: "review", run: func(context.Context, provider.PullRequest) error {
		return errors.New("checkout exploded")
	}}

	e.dispatch(context.Background(), pr, p)
	require.Eventually(t, func() bool { return e.registry.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
		return len(comments) == 1
	}, time.Second, 5*time.Millisecond)

	comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
	assert.Contains(t, comments[0].Body, "checkout exploded")
	assert.Equal(t, []string{string(label.ChangesNeeded)}, host.LabelsOn(pr.Number))
}

func TestDispatchCIErrorLeavesLabel(t *testing.T) {
	host := provider.NewMockHost()
	pr := testPR()
	host.AddPR(pr, string(label.CIPending))
	e := newTestEngine(host, &agent.MockRunner{}, nil, nil)

	p := pipeline{label: label.CIPending, name: "ci", run: func(context.Context, provider.PullRequest) error {
		return errors.New("transient API error")
	}}

	e.dispatch(context.Background(), pr, p)
	require.Eventually(t, func() bool { return e.registry.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		comments, _ := host.ListComments(context.Background(), pr.Owner, pr.Repo, pr.Number)
		return len(comments) == 1
	}, time.Second, 5*time.Millisecond)

	// Still legitimately waiting on CI; the label stays put.
	assert.Equal(t, []string{string(label.CIPending)}, host.LabelsOn(pr.Number))
}

func TestTriggerPollCoalesces(t *testing.T) {
	e := newTestEngine(provider.NewMockHost(), &agent.MockRunner{}, nil, nil)

	e.TriggerPoll()
	e.TriggerPoll()
	e.TriggerPoll()

	assert.Len(t, e.trigger, 1)
}
