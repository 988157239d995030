// Package intent models mutation requests as command objects and
// dispatches them to the external persistence collaborator. The core
// never mutates events directly: it emits intents, applies an
// optimistic preview, and reconciles when the collaborator responds.
package intent

import (
	"context"
	"time"

	"fleetgrid/internal/model"
)

// Kind discriminates the mutation an intent requests.
type Kind string

const (
	KindCreateBooking     Kind = "create_booking"
	KindStatusChange      Kind = "status_change"
	KindForceStatus       Kind = "force_status"
	KindDateChange        Kind = "date_change"
	KindBufferChange      Kind = "buffer_change"
	KindSplit             Kind = "split"
	KindReassign          Kind = "reassign"
	KindEarlyReturn       Kind = "early_return"
	KindCreateMaintenance Kind = "create_maintenance"
)

// Intent is one asynchronous mutation request. ID and Revision are
// assigned by the dispatcher; Revision is monotonic per event so late
// responses for superseded intents can be discarded.
type Intent struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Revision uint64 `json:"revision"`

	// EventID is zero for creations.
	EventID    int64 `json:"event_id,omitempty"`
	ResourceID int64 `json:"resource_id,omitempty"`

	Status        model.Status `json:"status,omitempty"`
	NewEnd        time.Time    `json:"new_end,omitempty"`
	BufferMinutes int          `json:"buffer_minutes,omitempty"`
	SplitAt       time.Time    `json:"split_at,omitempty"`
	Start         time.Time    `json:"start,omitempty"`
	End           time.Time    `json:"end,omitempty"`

	NewPrice     float64 `json:"new_price,omitempty"`
	FinalPrice   float64 `json:"final_price,omitempty"`
	RefundAmount float64 `json:"refund_amount,omitempty"`
	ShouldRefund bool    `json:"should_refund,omitempty"`
}

// Collaborator is the external persistence boundary. Every call is a
// suspension point; the core never blocks the interaction loop on it.
// Implementations live behind HTTP (internal/schedule) or test doubles.
type Collaborator interface {
	FetchScheduleView(ctx context.Context, start, end time.Time) (*model.ScheduleView, error)

	SubmitStatusChange(ctx context.Context, eventID int64, status model.Status) error
	SubmitDateChange(ctx context.Context, eventID int64, newEnd time.Time) error
	SubmitBufferChange(ctx context.Context, eventID int64, minutes int) error
	SubmitSplit(ctx context.Context, eventID int64, at time.Time) error
	SubmitReassign(ctx context.Context, eventID, resourceID int64, newPrice float64) error
	SubmitEarlyReturn(ctx context.Context, eventID int64, newEnd time.Time, finalPrice, refundAmount float64, shouldRefund bool) error
	SubmitCreateMaintenance(ctx context.Context, resourceID int64, start, end time.Time) error

	// CheckConflict is the authoritative server-side overlap query used
	// before committing a brand-new booking. The core's own overlap
	// test is advisory feedback only, never a substitute for this.
	CheckConflict(ctx context.Context, resourceID int64, start, end time.Time, excludeEventID int64) (bool, error)
}
