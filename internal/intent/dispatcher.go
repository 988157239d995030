package intent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetgrid/internal/events"
	"fleetgrid/internal/metrics"
	"fleetgrid/internal/model"
)

// Outcome is the collaborator's answer to one dispatched intent.
type Outcome struct {
	Intent      Intent
	Err         error
	HasConflict bool
}

// FetchResult carries an asynchronous schedule view response together
// with the identity of the window that requested it.
type FetchResult struct {
	Seq   uint64
	Start time.Time
	End   time.Time
	View  *model.ScheduleView
	Err   error
}

// previewable kinds change fields the layout renders, so they get an
// optimistic preview until the collaborator answers.
func previewable(k Kind) bool {
	switch k {
	case KindDateChange, KindEarlyReturn, KindBufferChange,
		KindStatusChange, KindForceStatus, KindReassign:
		return true
	}
	return false
}

type previewState int

const (
	previewPending previewState = iota
	previewCommitted
)

type preview struct {
	intent Intent
	state  previewState
}

// Dispatcher submits intents to the collaborator, keeps an optimistic
// preview per event, and reconciles responses. Late responses are
// discarded by revision (mutations) or sequence (fetches) so the
// user-visible state always reflects the last intent the user actually
// triggered, not whichever network response lands first.
type Dispatcher struct {
	collab Collaborator
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.Mutex
	revisions map[int64]uint64
	previews  map[int64]preview
	fetchSeq  uint64

	outcomes chan Outcome
	fetches  chan FetchResult
}

// NewDispatcher constructs a dispatcher over a collaborator.
func NewDispatcher(collab Collaborator, bus *events.Bus, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		collab:    collab,
		bus:       bus,
		logger:    logger,
		revisions: make(map[int64]uint64),
		previews:  make(map[int64]preview),
		outcomes:  make(chan Outcome, 64),
		fetches:   make(chan FetchResult, 8),
	}
}

// Outcomes delivers collaborator responses to the interaction loop.
// The loop must pass each one to Resolve.
func (d *Dispatcher) Outcomes() <-chan Outcome { return d.outcomes }

// Fetches delivers schedule view responses to the interaction loop.
// The loop must pass each one to ResolveFetch.
func (d *Dispatcher) Fetches() <-chan FetchResult { return d.fetches }

// Dispatch tags the intent with an identity and a per-event monotonic
// revision, applies the optimistic preview, and submits it without
// blocking. The returned intent carries the assigned ID and revision.
func (d *Dispatcher) Dispatch(ctx context.Context, in Intent) Intent {
	d.mu.Lock()
	in.ID = uuid.NewString()
	if in.EventID != 0 {
		d.revisions[in.EventID]++
		in.Revision = d.revisions[in.EventID]
	}
	if previewable(in.Kind) {
		d.previews[in.EventID] = preview{intent: in, state: previewPending}
	}
	d.mu.Unlock()

	metrics.IncIntentDispatched(string(in.Kind))
	d.logger.Debug().
		Str("intent_id", in.ID).
		Str("kind", string(in.Kind)).
		Int64("event_id", in.EventID).
		Uint64("revision", in.Revision).
		Msg("intent dispatched")

	go func() {
		out := Outcome{Intent: in}
		switch in.Kind {
		case KindCreateBooking:
			out.HasConflict, out.Err = d.collab.CheckConflict(ctx, in.ResourceID, in.Start, in.End, 0)
			if out.HasConflict {
				metrics.IncConflictDetected()
			}
		case KindStatusChange, KindForceStatus:
			out.Err = d.collab.SubmitStatusChange(ctx, in.EventID, in.Status)
		case KindDateChange:
			out.Err = d.collab.SubmitDateChange(ctx, in.EventID, in.NewEnd)
		case KindBufferChange:
			out.Err = d.collab.SubmitBufferChange(ctx, in.EventID, in.BufferMinutes)
		case KindSplit:
			out.Err = d.collab.SubmitSplit(ctx, in.EventID, in.SplitAt)
		case KindReassign:
			out.Err = d.collab.SubmitReassign(ctx, in.EventID, in.ResourceID, in.NewPrice)
		case KindEarlyReturn:
			out.Err = d.collab.SubmitEarlyReturn(ctx, in.EventID, in.NewEnd, in.FinalPrice, in.RefundAmount, in.ShouldRefund)
		case KindCreateMaintenance:
			out.Err = d.collab.SubmitCreateMaintenance(ctx, in.ResourceID, in.Start, in.End)
		}
		d.outcomes <- out
	}()

	return in
}

// Resolve reconciles one outcome. Stale responses (a newer intent for
// the same event is already dispatched) are discarded entirely: the
// newer intent owns the preview. Failures roll the preview back to the
// last known-good value. Returns false when the outcome was stale.
func (d *Dispatcher) Resolve(out Outcome) bool {
	d.mu.Lock()
	if out.Intent.EventID != 0 && out.Intent.Revision < d.revisions[out.Intent.EventID] {
		d.mu.Unlock()
		metrics.IncStaleResponse()
		d.logger.Debug().
			Str("intent_id", out.Intent.ID).
			Uint64("revision", out.Intent.Revision).
			Msg("stale intent response discarded")
		return false
	}

	if out.Err != nil {
		if pv, ok := d.previews[out.Intent.EventID]; ok && pv.intent.ID == out.Intent.ID {
			delete(d.previews, out.Intent.EventID)
		}
		d.mu.Unlock()
		metrics.IncIntentFailed(string(out.Intent.Kind))
		d.logger.Warn().Err(out.Err).
			Str("intent_id", out.Intent.ID).
			Str("kind", string(out.Intent.Kind)).
			Msg("intent rejected by collaborator")
		d.bus.Publish(events.Notice{
			Topic:   events.TopicIntentFailed,
			EventID: out.Intent.EventID,
			Payload: out,
		})
		return true
	}

	if pv, ok := d.previews[out.Intent.EventID]; ok && pv.intent.ID == out.Intent.ID {
		pv.state = previewCommitted
		d.previews[out.Intent.EventID] = pv
	}
	d.mu.Unlock()

	d.bus.Publish(events.Notice{
		Topic:   events.TopicIntentResolved,
		EventID: out.Intent.EventID,
		Payload: out,
	})
	return true
}

// InFlight reports whether an intent for the event is awaiting its
// outcome, for rendering a pending affordance.
func (d *Dispatcher) InFlight(eventID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	pv, ok := d.previews[eventID]
	return ok && pv.state == previewPending
}

// Apply overlays the optimistic previews onto a snapshot copy. The
// snapshot itself is never mutated.
func (d *Dispatcher) Apply(snapshot []model.Event) []model.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.previews) == 0 {
		return snapshot
	}

	out := make([]model.Event, len(snapshot))
	copy(out, snapshot)
	for i := range out {
		pv, ok := d.previews[out[i].ID]
		if !ok {
			continue
		}
		switch pv.intent.Kind {
		case KindDateChange, KindEarlyReturn:
			out[i].End = pv.intent.NewEnd
		case KindBufferChange:
			out[i].BufferMinutes = pv.intent.BufferMinutes
		case KindStatusChange, KindForceStatus:
			out[i].Status = pv.intent.Status
		case KindReassign:
			out[i].ResourceID = pv.intent.ResourceID
			out[i].Status = model.StatusConfirmed
		}
	}
	return out
}

// Fetch requests the schedule view for a window without blocking. Each
// request carries a monotonic sequence; only the most recent one may
// update the displayed window.
func (d *Dispatcher) Fetch(ctx context.Context, start, end time.Time) uint64 {
	d.mu.Lock()
	d.fetchSeq++
	seq := d.fetchSeq
	d.mu.Unlock()

	go func() {
		view, err := d.collab.FetchScheduleView(ctx, start, end)
		d.fetches <- FetchResult{Seq: seq, Start: start, End: end, View: view, Err: err}
	}()
	return seq
}

// ResolveFetch reconciles one fetch response. A late response for a
// superseded window is discarded so it cannot corrupt the currently
// displayed window. On success, committed previews are dropped: the
// fresh snapshot is now authoritative.
func (d *Dispatcher) ResolveFetch(r FetchResult) (*model.ScheduleView, bool) {
	d.mu.Lock()
	if r.Seq != d.fetchSeq {
		d.mu.Unlock()
		metrics.IncStaleResponse()
		return nil, false
	}

	for id, pv := range d.previews {
		if pv.state == previewCommitted {
			delete(d.previews, id)
		}
	}
	d.mu.Unlock()

	if r.Err != nil {
		metrics.IncViewFetch("error")
		d.logger.Error().Err(r.Err).Msg("schedule view fetch failed")
		d.bus.Publish(events.Notice{Topic: events.TopicFetchFailed, Payload: r})
		// An empty view renders an empty grid, not a wedged gesture
		// state machine.
		return &model.ScheduleView{}, true
	}

	metrics.IncViewFetch("ok")
	view := r.View
	if view == nil {
		view = &model.ScheduleView{}
	}
	return view, true
}
