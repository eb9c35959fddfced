// Package label defines the status-label vocabulary that drives the
// orchestration engine and the rules for moving a pull request between
// labels. At most one of these labels is ever attached to a PR at a time.
package label

import (
	"context"
	"fmt"
	"log/slog"
)

// Label is one of the mutually-exclusive status labels.
type Label string

const (
	// ReviewNeeded queues a PR for an automated review pass.
	ReviewNeeded Label = "bot-review-needed"
	// ChangesNeeded queues a PR for an automated fix pass.
	ChangesNeeded Label = "bot-changes-needed"
	// CIPending parks a PR while its checks run.
	CIPending Label = "bot-ci-pending"
	// HumanReviewNeeded marks a PR the bot considers clean; terminal.
	HumanReviewNeeded Label = "human-review-needed"
	// HumanIntervention marks a PR the bot has given up on; terminal.
	HumanIntervention Label = "bot-human-intervention"
)

// All returns every label the engine owns, in a stable order.
func All() []Label {
	return []Label{ReviewNeeded, ChangesNeeded, CIPending, HumanReviewNeeded, HumanIntervention}
}

// Valid reports whether l is part of the vocabulary.
func Valid(l Label) bool {
	switch l {
	case ReviewNeeded, ChangesNeeded, CIPending, HumanReviewNeeded, HumanIntervention:
		return true
	}
	return false
}

// transitions is the allowed-edge set of the state machine. ChangesNeeded
// lists itself because a failed fix run leaves the PR queued for retry.
// The two human-* labels are terminal from the bot's perspective.
var transitions = map[Label][]Label{
	ReviewNeeded:  {ChangesNeeded, HumanReviewNeeded, CIPending},
	ChangesNeeded: {CIPending, ChangesNeeded, HumanIntervention},
	CIPending:     {ReviewNeeded, ChangesNeeded},
}

// CanTransition reports whether the state machine permits moving from one
// label to another.
func CanTransition(from, to Label) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Labeler is the slice of the hosting-platform surface the state machine
// needs. provider.Host satisfies it.
type Labeler interface {
	AddLabel(ctx context.Context, owner, repo string, number int, name string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, name string) error
}

// Transition applies target to the PR as a single logical operation: every
// other bot label is removed first, then target is added. Removal failures
// for labels that are already absent are not errors; the host returns 404
// for those and we move on. A reader never observes two bot labels as a
// result of this call.
func Transition(ctx context.Context, h Labeler, owner, repo string, number int, target Label) error {
	if !Valid(target) {
		return fmt.Errorf("invalid label %q", target)
	}

	for _, l := range All() {
		if l == target {
			continue
		}
		if err := h.RemoveLabel(ctx, owner, repo, number, string(l)); err != nil {
			// Absent labels surface as not-found; anything else is worth a
			// log line but must not block the transition.
			slog.Debug("label removal skipped", "label", l, "pr", number, "error", err)
		}
	}

	if err := h.AddLabel(ctx, owner, repo, number, string(target)); err != nil {
		return fmt.Errorf("adding label %s: %w", target, err)
	}
	return nil
}
