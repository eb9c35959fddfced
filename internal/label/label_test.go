package label

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLabeler tracks the label set on a single PR and records call order.
type fakeLabeler struct {
	labels    map[string]bool
	calls     []string
	removeErr error
}

func newFakeLabeler(initial ...string) *fakeLabeler {
	f := &fakeLabeler{labels: make(map[string]bool)}
	for _, l := range initial {
		f.labels[l] = true
	}
	return f
}

func (f *fakeLabeler) AddLabel(_ context.Context, _, _ string, _ int, name string) error {
	f.calls = append(f.calls, "add:"+name)
	f.labels[name] = true
	return nil
}

func (f *fakeLabeler) RemoveLabel(_ context.Context, _, _ string, _ int, name string) error {
	f.calls = append(f.calls, "remove:"+name)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.labels, name)
	return nil
}

func (f *fakeLabeler) botLabelCount() int {
	n := 0
	for _, l := range All() {
		if f.labels[string(l)] {
			n++
		}
	}
	return n
}

func TestTransitionLeavesExactlyOneLabel(t *testing.T) {
	f := newFakeLabeler(string(ReviewNeeded))

	require.NoError(t, Transition(context.Background(), f, "acme", "widgets", 7, ChangesNeeded))

	assert.Equal(t, 1, f.botLabelCount())
	assert.True(t, f.labels[string(ChangesNeeded)])
}

func TestTransitionRemovesBeforeAdding(t *testing.T) {
	f := newFakeLabeler(string(CIPending))

	require.NoError(t, Transition(context.Background(), f, "acme", "widgets", 7, ReviewNeeded))

	// The add must be the final call; every removal precedes it.
	require.NotEmpty(t, f.calls)
	assert.Equal(t, "add:"+string(ReviewNeeded), f.calls[len(f.calls)-1])
}

func TestTransitionSequencesNeverLeaveTwoLabels(t *testing.T) {
	f := newFakeLabeler()

	seq := []Label{ReviewNeeded, ChangesNeeded, CIPending, ReviewNeeded, HumanReviewNeeded}
	for _, target := range seq {
		require.NoError(t, Transition(context.Background(), f, "acme", "widgets", 7, target))
		assert.Equal(t, 1, f.botLabelCount(), "after transition to %s", target)
	}
}

func TestTransitionToleratesRemovalErrors(t *testing.T) {
	f := newFakeLabeler()
	f.removeErr = errors.New("404 label does not exist")

	require.NoError(t, Transition(context.Background(), f, "acme", "widgets", 7, ChangesNeeded))
	assert.True(t, f.labels[string(ChangesNeeded)])
}

func TestTransitionRejectsUnknownLabel(t *testing.T) {
	f := newFakeLabeler()
	assert.Error(t, Transition(context.Background(), f, "acme", "widgets", 7, Label("wip")))
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Label
		want     bool
	}{
		{ReviewNeeded, ChangesNeeded, true},
		{ReviewNeeded, HumanReviewNeeded, true},
		{ReviewNeeded, CIPending, true},
		{ChangesNeeded, CIPending, true},
		{ChangesNeeded, ChangesNeeded, true},
		{ChangesNeeded, HumanIntervention, true},
		{CIPending, ReviewNeeded, true},
		{CIPending, ChangesNeeded, true},
		{HumanReviewNeeded, ReviewNeeded, false},
		{HumanIntervention, ChangesNeeded, false},
		{CIPending, HumanIntervention, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestValid(t *testing.T) {
	for _, l := range All() {
		assert.True(t, Valid(l))
	}
	assert.False(t, Valid(Label("needs-review")))
}
