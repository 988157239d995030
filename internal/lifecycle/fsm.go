// Package lifecycle implements the booking state machine: the
// authoritative set of statuses and legal transitions, validated
// independent of any UI. Time-dependent guards take an explicit now so
// the machine stays deterministic under test.
package lifecycle

import (
	"errors"
	"time"

	"fleetgrid/internal/model"
)

var (
	ErrInvalidTransition = errors.New("transition not allowed")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrNotStartedYet     = errors.New("booking has not started yet")
	ErrMaintenanceKind   = errors.New("maintenance blocks do not take part in the booking lifecycle")
	ErrEndBeforeStart    = errors.New("end must be after start")
	ErrStatusFrozen      = errors.New("status does not allow date changes")
	ErrNegativeBuffer    = errors.New("buffer minutes must not be negative")
	ErrSplitOutOfRange   = errors.New("split point must fall strictly inside the booking")
)

// FSM holds the legal guided transitions between booking statuses.
// displaced and cancelled are reachable only through the force path:
// displaced is set by an admin reassignment bumping a booking, and
// cancellation from any state requires the explicit administrative
// override, never the guided workflow.
type FSM struct {
	transitions map[model.Status][]model.Status
}

// New creates the booking lifecycle FSM with its guided transitions.
func New() *FSM {
	return &FSM{
		transitions: map[model.Status][]model.Status{
			model.StatusPending:   {model.StatusConfirmed, model.StatusOngoing},
			model.StatusConfirmed: {model.StatusOngoing, model.StatusNoShow},
			model.StatusOngoing:   {model.StatusCompleted},
			model.StatusDisplaced: {model.StatusConfirmed},
		},
	}
}

// CanTransition checks the structural rule only, ignoring time guards.
func (f *FSM) CanTransition(from, to model.Status) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check validates a guided transition for a concrete event at a
// concrete instant. This is the client-side guard; the collaborator
// still has the final say when the intent is submitted.
func (f *FSM) Check(ev *model.Event, to model.Status, now time.Time) error {
	if !ev.Status.Known() || !to.Known() {
		return ErrUnknownStatus
	}
	if ev.Status == model.StatusMaintenance || to == model.StatusMaintenance {
		return ErrMaintenanceKind
	}
	if !f.CanTransition(ev.Status, to) {
		return ErrInvalidTransition
	}

	switch {
	case ev.Status == model.StatusPending && to == model.StatusOngoing:
		// Approval with immediate release is only permitted once the
		// rental period has begun.
		if now.Before(ev.Start) {
			return ErrNotStartedYet
		}
	case ev.Status == model.StatusConfirmed && to == model.StatusNoShow:
		// No-show is only offered in the late-arrival state.
		if !now.After(ev.Start) {
			return ErrNotStartedYet
		}
	}
	return nil
}

// ForceCheck validates the explicit administrative override. It
// bypasses the guided guards entirely; only the maintenance/booking
// kind boundary remains.
func (f *FSM) ForceCheck(ev *model.Event, to model.Status) error {
	if !to.Known() {
		return ErrUnknownStatus
	}
	if ev.Status == model.StatusMaintenance || to == model.StatusMaintenance {
		return ErrMaintenanceKind
	}
	return nil
}

// IsEarlyReturn reports whether completing the booking at now is an
// early return. Early returns are routed through a distinct
// confirmation path that additionally settles the final price and an
// optional refund, rather than a bare status flip.
func IsEarlyReturn(ev *model.Event, now time.Time) bool {
	return now.Before(ev.End)
}

// ValidateEndChange guards the extend/shorten operation.
func ValidateEndChange(ev *model.Event, newEnd time.Time) error {
	switch ev.Status {
	case model.StatusPending, model.StatusConfirmed, model.StatusOngoing:
	default:
		return ErrStatusFrozen
	}
	if !newEnd.After(ev.Start) {
		return ErrEndBeforeStart
	}
	return nil
}

// ValidateBufferChange guards the turnaround adjustment, permitted at
// any time for non-negative minutes.
func ValidateBufferChange(minutes int) error {
	if minutes < 0 {
		return ErrNegativeBuffer
	}
	return nil
}

// ValidateSplit guards the split operation: the split point must fall
// strictly between the booking's start and end.
func ValidateSplit(ev *model.Event, at time.Time) error {
	if !at.After(ev.Start) || !at.Before(ev.End) {
		return ErrSplitOutOfRange
	}
	return nil
}

// ValidateMaintenance guards maintenance block creation.
func ValidateMaintenance(start, end time.Time) error {
	if !end.After(start) {
		return ErrEndBeforeStart
	}
	return nil
}

// ValidateReassign guards the reassign-with-new-price operation used
// to resolve a displaced or proposed booking. Accepting a proposal
// implies confirmation, so the target must be a booking, not a
// maintenance block.
func ValidateReassign(ev *model.Event) error {
	if ev.Status == model.StatusMaintenance {
		return ErrMaintenanceKind
	}
	return nil
}
