// Package gesture implements the stateful interaction controller for
// the booking timeline: drag-to-create, edge and buffer resize,
// modifier-click split, ghost placement with conflict resolution, and
// view navigation. The controller only reads the event snapshot and
// emits intents; it never mutates committed events.
package gesture

import (
	"errors"
	"math"
	"time"

	"fleetgrid/internal/intent"
	"fleetgrid/internal/lifecycle"
	"fleetgrid/internal/model"
	"fleetgrid/internal/timegrid"
)

var (
	ErrGhostBlocked = errors.New("placement conflicts with an existing booking")
	ErrNoGhost      = errors.New("no ghost booking active")
)

// GhostState is the presentation state of the active ghost booking.
type GhostState string

const (
	GhostNone    GhostState = "none"
	GhostReady   GhostState = "ready"
	GhostBlocked GhostState = "blocked"
	// GhostOverride marks a conflicting placement that may still be
	// confirmed because override mode is on: the admin explicitly
	// accepts the double-booking risk.
	GhostOverride GhostState = "override"
)

// Config tunes the pixel geometry and clock of the controller.
type Config struct {
	// PixelsPerUnit converts projection width units to screen pixels.
	PixelsPerUnit float64
	// DragThresholdPx separates a plain click from a micro-drag.
	DragThresholdPx float64
	// SnapMinutes is the grid both edges of a created booking snap to.
	SnapMinutes int
	// MaintenanceBlockHours is the default length of a maintenance
	// block created from a clicked timestamp.
	MaintenanceBlockHours int
	// Now is injected so time-guarded flows stay testable.
	Now func() time.Time
}

func (c *Config) fill() {
	if c.PixelsPerUnit <= 0 {
		c.PixelsPerUnit = 40
	}
	if c.DragThresholdPx <= 0 {
		c.DragThresholdPx = 5
	}
	if c.SnapMinutes <= 0 {
		c.SnapMinutes = 30
	}
	if c.MaintenanceBlockHours <= 0 {
		c.MaintenanceBlockHours = 24
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Callbacks are the host-side UI effects that are not mutation
// intents. Any of them may be nil.
type Callbacks struct {
	OpenDetail   func(eventID int64)
	OpenCreateAt func(resourceID int64, at time.Time)
	RangeChanged func(start, end time.Time)
}

type gestureKind int

const (
	gestureNone gestureKind = iota
	gestureCreating
	gestureResizingEvent
	gestureResizingBuffer
)

// activeGesture is the tagged union of the current gesture session.
// Exactly one gesture may be active at a time; each variant holds only
// the fields that gesture needs.
type activeGesture struct {
	kind gestureKind

	// creating
	resourceID int64
	startPx    float64
	lastPx     float64
	dragged    bool

	// resizing
	eventID        int64
	originalEnd    time.Time
	previewEnd     time.Time
	originalBuffer int
	previewBuffer  int
}

// Controller drives the timeline's direct-manipulation gestures.
type Controller struct {
	cfg       Config
	fsm       *lifecycle.FSM
	callbacks Callbacks
	emit      func(intent.Intent)

	mode   timegrid.ViewMode
	anchor time.Time
	proj   timegrid.Projection

	events []model.Event

	gesture  activeGesture
	ghost    *model.GhostBooking
	override bool
}

// New creates a controller. emit receives every intent the controller
// produces, typically the dispatcher's Dispatch.
func New(cfg Config, callbacks Callbacks, emit func(intent.Intent)) *Controller {
	cfg.fill()
	c := &Controller{
		cfg:       cfg,
		fsm:       lifecycle.New(),
		callbacks: callbacks,
		emit:      emit,
		mode:      timegrid.ModeWeek,
		anchor:    cfg.Now(),
	}
	c.reproject(false)
	return c
}

// Projection returns the current visible window projection.
func (c *Controller) Projection() timegrid.Projection { return c.proj }

// SetEvents replaces the snapshot used for conflict evaluation. Called
// after each fetch reconciliation.
func (c *Controller) SetEvents(events []model.Event) { c.events = events }

// SetMode switches the view granularity and re-derives the window.
func (c *Controller) SetMode(mode timegrid.ViewMode) {
	if !mode.Known() || mode == c.mode {
		return
	}
	c.mode = mode
	c.reproject(true)
}

// Next steps the anchor forward by one unit of the view granularity.
func (c *Controller) Next() {
	c.anchor = timegrid.Step(c.mode, c.anchor, 1)
	c.reproject(true)
}

// Prev steps the anchor backward by one unit of the view granularity.
func (c *Controller) Prev() {
	c.anchor = timegrid.Step(c.mode, c.anchor, -1)
	c.reproject(true)
}

// JumpTo sets the anchor directly.
func (c *Controller) JumpTo(date time.Time) {
	c.anchor = date
	c.reproject(true)
}

// Refresh re-derives the projection against the current clock without
// moving the anchor, keeping the "now" indicator honest.
func (c *Controller) Refresh() {
	c.reproject(false)
}

func (c *Controller) reproject(notify bool) {
	c.proj = timegrid.Project(c.mode, c.anchor, c.cfg.Now())
	if notify && c.callbacks.RangeChanged != nil {
		c.callbacks.RangeChanged(c.proj.WindowStart, c.proj.WindowEnd)
	}
}

// timeAt converts a horizontal pixel offset to an absolute timestamp
// inside the window.
func (c *Controller) timeAt(px float64) time.Time {
	minutes := px / c.cfg.PixelsPerUnit / c.proj.UnitsPerMinute
	return c.proj.WindowStart.Add(time.Duration(math.Round(minutes)) * time.Minute)
}

func (c *Controller) pixelsPerMinute() float64 {
	return c.proj.UnitsPerMinute * c.cfg.PixelsPerUnit
}

func (c *Controller) pixelsPerDay() float64 {
	return c.pixelsPerMinute() * 24 * 60
}

// snap rounds a timestamp to the nearest snap boundary. Snapping an
// already-aligned timestamp returns it unchanged.
func (c *Controller) snap(t time.Time) time.Time {
	return t.Round(time.Duration(c.cfg.SnapMinutes) * time.Minute)
}

func (c *Controller) findEvent(eventID int64) *model.Event {
	for i := range c.events {
		if c.events[i].ID == eventID {
			return &c.events[i]
		}
	}
	return nil
}

// --- create-by-drag ---

// BeginCreate starts a create gesture on primary-button mousedown over
// empty resource-row space. No-op while another gesture is active.
func (c *Controller) BeginCreate(resourceID int64, px float64) {
	if c.gesture.kind != gestureNone {
		return
	}
	c.gesture = activeGesture{
		kind:       gestureCreating,
		resourceID: resourceID,
		startPx:    px,
		lastPx:     px,
	}
}

// MoveCreate updates the live preview rectangle. The gesture counts as
// a drag once displacement exceeds the threshold, so a plain click
// never registers as a micro-drag.
func (c *Controller) MoveCreate(px float64) {
	if c.gesture.kind != gestureCreating {
		return
	}
	c.gesture.lastPx = px
	if math.Abs(px-c.gesture.startPx) > c.cfg.DragThresholdPx {
		c.gesture.dragged = true
	}
}

// CreatePreview returns the live preview interval of an in-flight
// create gesture, already snapped, and whether one is active.
func (c *Controller) CreatePreview() (start, end time.Time, ok bool) {
	if c.gesture.kind != gestureCreating || !c.gesture.dragged {
		return time.Time{}, time.Time{}, false
	}
	start, end = c.dragInterval()
	return start, end, true
}

func (c *Controller) dragInterval() (time.Time, time.Time) {
	a, b := c.gesture.startPx, c.gesture.lastPx
	if b < a {
		a, b = b, a
	}
	return c.snap(c.timeAt(a)), c.snap(c.timeAt(b))
}

// EndCreate finishes the gesture. A real drag with distinct snapped
// edges emits a create-booking intent; gesture slop (zero-width after
// snapping) is silently suppressed. A plain click either moves the
// active ghost to this resource or opens the creation flow at the
// clicked instant.
func (c *Controller) EndCreate(px float64) {
	if c.gesture.kind != gestureCreating {
		return
	}
	c.gesture.lastPx = px
	if math.Abs(px-c.gesture.startPx) > c.cfg.DragThresholdPx {
		c.gesture.dragged = true
	}

	g := c.gesture
	c.gesture = activeGesture{}

	if g.dragged {
		start, end := c.dragInterval()
		if start.Equal(end) {
			return
		}
		c.emit(intent.Intent{
			Kind:       intent.KindCreateBooking,
			ResourceID: g.resourceID,
			Start:      start,
			End:        end,
		})
		return
	}

	if c.ghost != nil {
		c.MoveGhost(g.resourceID)
		return
	}
	if c.callbacks.OpenCreateAt != nil {
		c.callbacks.OpenCreateAt(g.resourceID, c.timeAt(g.startPx))
	}
}

// --- resize gestures ---

// BeginResizeEvent starts dragging an event's end boundary. The caller
// must stop propagation so the underlying row does not also begin a
// create gesture. Completed events have no resize handle; a begin on
// one is refused here as well.
func (c *Controller) BeginResizeEvent(eventID int64, px float64) {
	if c.gesture.kind != gestureNone {
		return
	}
	ev := c.findEvent(eventID)
	if ev == nil || ev.Status == model.StatusCompleted {
		return
	}
	c.gesture = activeGesture{
		kind:        gestureResizingEvent,
		eventID:     eventID,
		startPx:     px,
		originalEnd: ev.End,
		previewEnd:  ev.End,
	}
}

// BeginResizeBuffer starts dragging an event's turnaround boundary.
func (c *Controller) BeginResizeBuffer(eventID int64, px float64) {
	if c.gesture.kind != gestureNone {
		return
	}
	ev := c.findEvent(eventID)
	if ev == nil {
		return
	}
	c.gesture = activeGesture{
		kind:           gestureResizingBuffer,
		eventID:        eventID,
		startPx:        px,
		originalEnd:    ev.End,
		originalBuffer: ev.BufferMinutes,
		previewBuffer:  ev.BufferMinutes,
	}
}

// MoveResize updates the live resize preview. Event-edge drags are
// quantized to whole days, buffer drags to whole hours.
func (c *Controller) MoveResize(px float64) {
	delta := px - c.gesture.startPx

	switch c.gesture.kind {
	case gestureResizingEvent:
		days := int(math.Round(delta / c.pixelsPerDay()))
		c.gesture.previewEnd = c.gesture.originalEnd.AddDate(0, 0, days)
	case gestureResizingBuffer:
		minutes := int(math.Round(delta/c.pixelsPerMinute()/60)) * 60
		preview := c.gesture.originalBuffer + minutes
		if preview < 0 {
			preview = 0
		}
		c.gesture.previewBuffer = preview
	}
}

// ResizePreview exposes the live preview for rendering: the overridden
// end and buffer of the event being resized.
func (c *Controller) ResizePreview() (eventID int64, end time.Time, buffer int, ok bool) {
	switch c.gesture.kind {
	case gestureResizingEvent:
		return c.gesture.eventID, c.gesture.previewEnd, 0, true
	case gestureResizingBuffer:
		return c.gesture.eventID, c.gesture.originalEnd, c.gesture.previewBuffer, true
	}
	return 0, time.Time{}, 0, false
}

// EndResize finishes a resize gesture. A no-op drag (preview equals
// the original) emits nothing; an invalid preview (end before start)
// is suppressed as gesture slop.
func (c *Controller) EndResize(px float64) {
	c.MoveResize(px)
	g := c.gesture
	c.gesture = activeGesture{}

	switch g.kind {
	case gestureResizingEvent:
		if g.previewEnd.Equal(g.originalEnd) {
			return
		}
		ev := c.findEvent(g.eventID)
		if ev == nil || lifecycle.ValidateEndChange(ev, g.previewEnd) != nil {
			return
		}
		c.emit(intent.Intent{
			Kind:    intent.KindDateChange,
			EventID: g.eventID,
			NewEnd:  g.previewEnd,
		})
	case gestureResizingBuffer:
		if g.previewBuffer == g.originalBuffer {
			return
		}
		if lifecycle.ValidateBufferChange(g.previewBuffer) != nil {
			return
		}
		c.emit(intent.Intent{
			Kind:          intent.KindBufferChange,
			EventID:       g.eventID,
			BufferMinutes: g.previewBuffer,
		})
	}
}

// --- clicks on events ---

// ClickEvent handles a click on an event box. Alt+click splits the
// booking at the clicked timestamp instead of opening the detail
// popover; an out-of-range split point is suppressed.
func (c *Controller) ClickEvent(eventID int64, px float64, alt bool) {
	if !alt {
		if c.callbacks.OpenDetail != nil {
			c.callbacks.OpenDetail(eventID)
		}
		return
	}

	ev := c.findEvent(eventID)
	if ev == nil {
		return
	}
	at := c.snap(c.timeAt(px))
	if lifecycle.ValidateSplit(ev, at) != nil {
		return
	}
	c.emit(intent.Intent{
		Kind:    intent.KindSplit,
		EventID: eventID,
		SplitAt: at,
	})
}

// AddMaintenanceAt creates a maintenance block starting at the clicked
// timestamp on a resource.
func (c *Controller) AddMaintenanceAt(resourceID int64, px float64) {
	start := c.snap(c.timeAt(px))
	end := start.Add(time.Duration(c.cfg.MaintenanceBlockHours) * time.Hour)
	if lifecycle.ValidateMaintenance(start, end) != nil {
		return
	}
	c.emit(intent.Intent{
		Kind:       intent.KindCreateMaintenance,
		ResourceID: resourceID,
		Start:      start,
		End:        end,
	})
}

// --- ghost placement / conflict resolution ---

// PlaceGhost starts a placement interaction for an existing booking,
// typically a displaced one awaiting a new resource.
func (c *Controller) PlaceGhost(eventID, resourceID int64, start, end time.Time, price float64) {
	c.ghost = &model.GhostBooking{
		ID:         "",
		EventID:    eventID,
		ResourceID: resourceID,
		Start:      start,
		End:        end,
		Price:      price,
	}
}

// MoveGhost relocates the in-memory ghost to a new resource and
// re-evaluates its conflict state. Committed events are never touched.
func (c *Controller) MoveGhost(resourceID int64) {
	if c.ghost == nil {
		return
	}
	c.ghost.ResourceID = resourceID
}

// Ghost returns the active ghost booking, if any.
func (c *Controller) Ghost() *model.GhostBooking { return c.ghost }

// SetOverride toggles the administrative override permitting
// confirmation despite a detected conflict.
func (c *Controller) SetOverride(on bool) { c.override = on }

// GhostConflicts reports whether the ghost currently overlaps a
// conflict-relevant event on its target resource.
func (c *Controller) GhostConflicts() bool {
	return c.ghost != nil && c.ghost.ConflictsWith(c.events)
}

// GhostStatus classifies the ghost placement for presentation:
// ready, blocked, or force-override.
func (c *Controller) GhostStatus() GhostState {
	switch {
	case c.ghost == nil:
		return GhostNone
	case !c.GhostConflicts():
		return GhostReady
	case c.override:
		return GhostOverride
	default:
		return GhostBlocked
	}
}

// ConfirmGhost resolves the placement. A blocked ghost is rejected.
// Confirming reassigns the booking to the target resource at the new
// price; accepting a proposal implies confirmation. When confirming
// over a conflict (override mode), every bumped booking on the target
// resource is force-marked displaced so the conflict stays visible
// until an admin resolves it.
func (c *Controller) ConfirmGhost() error {
	if c.ghost == nil {
		return ErrNoGhost
	}

	conflicts := c.GhostConflicts()
	if conflicts && !c.override {
		return ErrGhostBlocked
	}

	g := c.ghost
	c.ghost = nil

	c.emit(intent.Intent{
		Kind:       intent.KindReassign,
		EventID:    g.EventID,
		ResourceID: g.ResourceID,
		NewPrice:   g.Price,
	})

	if conflicts {
		probe := g.AsEvent()
		for i := range c.events {
			ev := &c.events[i]
			if ev.ResourceID != g.ResourceID || ev.ID == g.EventID {
				continue
			}
			if !ev.Status.CountsForConflict() || !probe.OverlapsWith(ev) {
				continue
			}
			if ev.Status == model.StatusMaintenance {
				continue
			}
			c.emit(intent.Intent{
				Kind:    intent.KindForceStatus,
				EventID: ev.ID,
				Status:  model.StatusDisplaced,
			})
		}
	}
	return nil
}

// CancelGhost discards the placement without emitting anything.
func (c *Controller) CancelGhost() { c.ghost = nil }

// --- guided status workflow ---

// RequestStatusChange validates a guided transition and emits the
// status-change intent. The collaborator remains the final authority.
func (c *Controller) RequestStatusChange(eventID int64, to model.Status) error {
	ev := c.findEvent(eventID)
	if ev == nil {
		return lifecycle.ErrUnknownStatus
	}
	if err := c.fsm.Check(ev, to, c.cfg.Now()); err != nil {
		return err
	}
	c.emit(intent.Intent{Kind: intent.KindStatusChange, EventID: eventID, Status: to})
	return nil
}

// ForceStatusChange is the explicit administrative override path. It
// bypasses the guided guards and is a distinct, labeled operation.
func (c *Controller) ForceStatusChange(eventID int64, to model.Status) error {
	ev := c.findEvent(eventID)
	if ev == nil {
		return lifecycle.ErrUnknownStatus
	}
	if err := c.fsm.ForceCheck(ev, to); err != nil {
		return err
	}
	c.emit(intent.Intent{Kind: intent.KindForceStatus, EventID: eventID, Status: to})
	return nil
}

// ProcessReturn completes an ongoing rental. Before the scheduled end
// it is an early return and goes through the settlement path with a
// final price and optional refund; afterwards it is a plain
// completion.
func (c *Controller) ProcessReturn(eventID int64, finalPrice, refundAmount float64, shouldRefund bool) error {
	ev := c.findEvent(eventID)
	if ev == nil {
		return lifecycle.ErrUnknownStatus
	}
	now := c.cfg.Now()
	if err := c.fsm.Check(ev, model.StatusCompleted, now); err != nil {
		return err
	}

	if lifecycle.IsEarlyReturn(ev, now) {
		c.emit(intent.Intent{
			Kind:         intent.KindEarlyReturn,
			EventID:      eventID,
			NewEnd:       now,
			FinalPrice:   finalPrice,
			RefundAmount: refundAmount,
			ShouldRefund: shouldRefund,
		})
		return nil
	}
	c.emit(intent.Intent{Kind: intent.KindStatusChange, EventID: eventID, Status: model.StatusCompleted})
	return nil
}
