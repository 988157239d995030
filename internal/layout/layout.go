// Package layout computes per-event positions, turnaround bands and
// visual states for a projected window. Everything is recomputed from
// scratch on each pass from an immutable snapshot; nothing is patched
// incrementally.
package layout

import (
	"time"

	"fleetgrid/internal/model"
	"fleetgrid/internal/timegrid"
)

// VisualState classifies how an event is rendered. When several
// conditions hold, the priority order below decides:
// maintenance > displaced > completed > overdue return > ongoing >
// late arrival > confirmed/pending.
type VisualState string

const (
	StateMaintenance   VisualState = "maintenance"
	StateDisplaced     VisualState = "displaced"
	StateCompleted     VisualState = "completed"
	StateOverdueReturn VisualState = "overdue_return"
	StateOngoing       VisualState = "ongoing"
	StateLateArrival   VisualState = "late_arrival"
	StateConfirmed     VisualState = "confirmed"
	StatePending       VisualState = "pending"
	StateNoShow        VisualState = "no_show"
	StateCancelled     VisualState = "cancelled"
)

// MinVisibleMinutes guarantees every rendered event keeps a clickable
// width even when almost entirely clipped by the window.
const MinVisibleMinutes = 30.0

// BufferBand is the turnaround strip rendered after an event's end.
type BufferBand struct {
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Box is the computed placement of one event inside the window.
type Box struct {
	EventID    int64       `json:"event_id"`
	ResourceID int64       `json:"resource_id"`
	Left       float64     `json:"left"`
	Width      float64     `json:"width"`
	State      VisualState `json:"state"`

	// Buffer is nil when the event has no turnaround or the band falls
	// entirely outside the window.
	Buffer *BufferBand `json:"buffer,omitempty"`
}

// Plan is the full layout result for one render pass.
type Plan struct {
	Boxes []Box `json:"boxes"`

	// ActiveResources marks resources with at least one non-cancelled,
	// non-no-show event intersecting the window.
	ActiveResources map[int64]bool `json:"active_resources"`
}

// Compute lays out all events against the projected window. Events
// entirely outside the window are excluded. now drives the
// late-arrival and overdue-return classifications.
func Compute(p *timegrid.Projection, events []model.Event, now time.Time) Plan {
	plan := Plan{
		ActiveResources: make(map[int64]bool),
	}

	for i := range events {
		ev := &events[i]

		if ev.Status.CountsForActivity() && intersectsWindow(ev, p) {
			plan.ActiveResources[ev.ResourceID] = true
		}

		box, ok := placeEvent(p, ev, events, now)
		if !ok {
			continue
		}
		plan.Boxes = append(plan.Boxes, box)
	}

	return plan
}

func intersectsWindow(ev *model.Event, p *timegrid.Projection) bool {
	return !ev.DisplayEnd().Before(p.WindowStart) && !ev.Start.After(p.WindowEnd)
}

func placeEvent(p *timegrid.Projection, ev *model.Event, all []model.Event, now time.Time) (Box, bool) {
	displayEnd := ev.DisplayEnd()
	if displayEnd.Before(p.WindowStart) || ev.Start.After(p.WindowEnd) {
		return Box{}, false
	}

	clampedStart := ev.Start
	if clampedStart.Before(p.WindowStart) {
		clampedStart = p.WindowStart
	}
	effectiveEnd := displayEnd
	if effectiveEnd.After(p.WindowEnd) {
		effectiveEnd = p.WindowEnd
	}

	durationMinutes := effectiveEnd.Sub(clampedStart).Minutes()
	if durationMinutes < MinVisibleMinutes {
		durationMinutes = MinVisibleMinutes
	}

	box := Box{
		EventID:    ev.ID,
		ResourceID: ev.ResourceID,
		Left:       p.Offset(ev.Start),
		Width:      durationMinutes * p.UnitsPerMinute,
		State:      Classify(ev, all, now),
		Buffer:     bufferBand(p, ev, displayEnd),
	}
	return box, true
}

func bufferBand(p *timegrid.Projection, ev *model.Event, displayEnd time.Time) *BufferBand {
	if ev.BufferMinutes <= 0 {
		return nil
	}

	bandStart := displayEnd
	bandEnd := displayEnd.Add(time.Duration(ev.BufferMinutes) * time.Minute)
	if !bandEnd.After(p.WindowStart) || !bandStart.Before(p.WindowEnd) {
		return nil
	}

	if bandStart.Before(p.WindowStart) {
		bandStart = p.WindowStart
	}
	if bandEnd.After(p.WindowEnd) {
		bandEnd = p.WindowEnd
	}

	return &BufferBand{
		Left:  p.Offset(bandStart),
		Width: bandEnd.Sub(bandStart).Minutes() * p.UnitsPerMinute,
	}
}

// Classify derives the visual state of one event against the other
// events on its resource. The priority ordering is part of the
// contract: it decides which colour and label win when several
// conditions hold at once.
func Classify(ev *model.Event, all []model.Event, now time.Time) VisualState {
	switch ev.Status {
	case model.StatusMaintenance:
		return StateMaintenance
	case model.StatusDisplaced:
		return StateDisplaced
	case model.StatusCancelled:
		return StateCancelled
	case model.StatusNoShow:
		return StateNoShow
	}

	if overlapsOther(ev, all) {
		return StateDisplaced
	}

	switch ev.Status {
	case model.StatusCompleted:
		return StateCompleted
	case model.StatusOngoing:
		if now.After(ev.End) {
			return StateOverdueReturn
		}
		return StateOngoing
	case model.StatusConfirmed:
		if now.After(ev.Start) {
			return StateLateArrival
		}
		return StateConfirmed
	default:
		return StatePending
	}
}

// overlapsOther runs the buffer-inclusive pairwise interval test
// against every other conflict-relevant event on the same resource.
func overlapsOther(ev *model.Event, all []model.Event) bool {
	for i := range all {
		other := &all[i]
		if other.ID == ev.ID || other.ResourceID != ev.ResourceID {
			continue
		}
		if !other.Status.CountsForConflict() {
			continue
		}
		if ev.OverlapsWith(other) {
			return true
		}
	}
	return false
}
