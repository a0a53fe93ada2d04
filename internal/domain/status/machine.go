// Package status is the single authority for Application status
// transitions. Both the submission pipeline and user-initiated requests go
// through Validate so the two paths cannot diverge.
package status

import (
	"time"

	apperrors "github.com/jobwell/jobwell-go/internal/errors"
	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// Actor identifies who requested a transition. It is recorded in the
// timeline entry for every committed transition.
type Actor string

const (
	// ActorUser marks a user-initiated transition.
	ActorUser Actor = "user"
	// ActorPipeline marks a pipeline-initiated transition.
	ActorPipeline Actor = "pipeline"
)

// transitions is the fixed rulebook. A status absent from the map, or an
// empty set, is terminal.
var transitions = map[model.ApplicationStatus][]model.ApplicationStatus{
	model.StatusSaved:            {model.StatusQueued, model.StatusRejected},
	model.StatusQueued:           {model.StatusApplied, model.StatusSubmissionFailed, model.StatusRejected},
	model.StatusApplied:          {model.StatusInterview, model.StatusRejected},
	model.StatusInterview:        {model.StatusOffer, model.StatusRejected},
	model.StatusOffer:            {},
	model.StatusRejected:         {},
	model.StatusSubmissionFailed: {model.StatusQueued, model.StatusRejected},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to model.ApplicationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the legal target statuses from the given status.
// The returned slice is a copy and safe to mutate.
func AllowedFrom(from model.ApplicationStatus) []model.ApplicationStatus {
	return append([]model.ApplicationStatus(nil), transitions[from]...)
}

// Validate checks that to is a member of the enum and that from → to is
// permitted by the table. It returns InvalidTransition otherwise.
func Validate(from, to model.ApplicationStatus) error {
	if !to.Valid() {
		return apperrors.InvalidTransitionf("unknown status %q", to)
	}
	if !from.Valid() {
		return apperrors.InvalidTransitionf("unknown status %q", from)
	}
	if !CanTransition(from, to) {
		return apperrors.InvalidTransitionf("cannot move application from %q to %q", from, to)
	}
	return nil
}

// Entry builds the timeline entry recorded alongside a committed
// transition. Every transition appends exactly one entry.
func Entry(from, to model.ApplicationStatus, actor Actor, now time.Time) model.TimelineEntry {
	return model.TimelineEntry{
		Action:      model.ActionStatusChange,
		Description: string(from) + " -> " + string(to) + " (" + string(actor) + ")",
		CreatedAt:   now.UTC(),
	}
}
