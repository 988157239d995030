// Package model defines the domain types shared by the timeline core:
// bookable resources, scheduled events and the transient ghost booking.
package model

import "time"

// Status is the stored lifecycle status of an event.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusOngoing     Status = "ongoing"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusCancelled   Status = "cancelled"
	StatusMaintenance Status = "maintenance"
	StatusDisplaced   Status = "displaced"
)

// IsBookingStatus reports whether s belongs to the booking lifecycle.
// Maintenance blocks occupy a resource but are not rentals.
func (s Status) IsBookingStatus() bool {
	return s != StatusMaintenance && s.Known()
}

// CountsForConflict reports whether an event with this status blocks
// other events' intervals. Cancelled and no-show events free the
// interval; displaced events are already flagged as bumped and must
// not mark their neighbours as conflicting in turn.
func (s Status) CountsForConflict() bool {
	switch s {
	case StatusCancelled, StatusNoShow, StatusDisplaced:
		return false
	}
	return true
}

// CountsForActivity reports whether an event with this status makes a
// resource "booked" for the purposes of the booked/available filter.
func (s Status) CountsForActivity() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusOngoing, StatusCompleted,
		StatusNoShow, StatusCancelled, StatusMaintenance, StatusDisplaced:
		return true
	}
	return false
}

// Resource represents a bookable fleet unit shown as a timeline row.
// Resources are immutable during a scheduling session; the fleet
// subsystem owns their lifecycle.
type Resource struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	ImageURL string   `json:"image_url,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Event represents a scheduled occupation of a resource: a rental
// booking or a maintenance block.
type Event struct {
	ID         int64     `json:"id"`
	ResourceID int64     `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     Status    `json:"status"`

	// BufferMinutes is the mandatory turnaround appended after End during
	// which the resource is still considered occupied. Never negative.
	BufferMinutes int `json:"buffer_minutes"`

	Title           string  `json:"title"`
	Subtitle        string  `json:"subtitle,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	PaymentStatus   string  `json:"payment_status,omitempty"`
	PickupLocation  string  `json:"pickup_location,omitempty"`
	DropoffLocation string  `json:"dropoff_location,omitempty"`
	DriverName      string  `json:"driver_name,omitempty"`
	CustomerName    string  `json:"customer_name,omitempty"`
	CustomerPhone   string  `json:"customer_phone,omitempty"`
}

// DisplayEnd returns the end used for layout. A zero or negative
// duration is a data error; it is floored to one day so the event
// stays visible and clickable.
func (e *Event) DisplayEnd() time.Time {
	if !e.End.After(e.Start) {
		return e.Start.Add(24 * time.Hour)
	}
	return e.End
}

// OccupiedUntil returns the instant the resource becomes free again:
// the display end plus the turnaround buffer.
func (e *Event) OccupiedUntil() time.Time {
	end := e.DisplayEnd()
	if e.BufferMinutes > 0 {
		end = end.Add(time.Duration(e.BufferMinutes) * time.Minute)
	}
	return end
}

// OverlapsWith reports whether the two events' buffer-inclusive
// intervals intersect. The test is symmetric: OverlapsWith(a,b) ==
// OverlapsWith(b,a) for any pair.
func (e *Event) OverlapsWith(other *Event) bool {
	return other.Start.Before(e.OccupiedUntil()) && other.OccupiedUntil().After(e.Start)
}

// ScheduleView is the snapshot returned by the data source for a
// visible window. Treated as immutable for the duration of a render
// pass.
type ScheduleView struct {
	Resources []Resource `json:"resources"`
	Events    []Event    `json:"events"`
}

// GhostBooking is a transient proposed booking used during
// conflict-resolution and reassignment flows. It lives only inside the
// interaction controller and is never persisted.
type GhostBooking struct {
	ID         string    `json:"id"` // uuid, no persisted identity
	EventID    int64     `json:"event_id"`
	ResourceID int64     `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Price      float64   `json:"price"`
}

// AsEvent projects the ghost into an Event so the layout engine can
// place it with the same algorithm as committed events.
func (g *GhostBooking) AsEvent() Event {
	return Event{
		ID:         g.EventID,
		ResourceID: g.ResourceID,
		Start:      g.Start,
		End:        g.End,
		Status:     StatusPending,
	}
}

// ConflictsWith reports whether the ghost's interval intersects any
// occupying event on its target resource. The ghost itself carries no
// buffer; existing events contribute theirs.
func (g *GhostBooking) ConflictsWith(events []Event) bool {
	probe := g.AsEvent()
	for i := range events {
		ev := &events[i]
		if ev.ResourceID != g.ResourceID || ev.ID == g.EventID {
			continue
		}
		if !ev.Status.CountsForConflict() {
			continue
		}
		if probe.OverlapsWith(ev) {
			return true
		}
	}
	return false
}
