package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fleetgrid/internal/audit"
	"fleetgrid/internal/events"
	"fleetgrid/internal/export"
	"fleetgrid/internal/intent"
	"fleetgrid/internal/layout"
	"fleetgrid/internal/lifecycle"
	"fleetgrid/internal/metrics"
	"fleetgrid/internal/model"
	"fleetgrid/internal/timegrid"
)

// Event lookups scan a wide window around now; the admin timeline
// never operates outside it.
const (
	lookupPast   = 90 * 24 * time.Hour
	lookupFuture = 180 * 24 * time.Hour
)

var errEventNotFound = errors.New("event not found")

type timelineResponse struct {
	Projection timegrid.Projection `json:"projection"`
	Plan       layout.Plan         `json:"plan"`
	Resources  []model.Resource    `json:"resources"`
	Events     []model.Event       `json:"events"`
}

// Timeline handles GET /v1/timeline. Query params: mode (day, week,
// month), anchor (RFC3339), filter (all, booked, available), q.
func (s *Server) Timeline(c echo.Context) error {
	mode := timegrid.ViewMode(c.QueryParam("mode"))
	if mode == "" {
		mode = timegrid.ModeWeek
	}
	if !mode.Known() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown view mode"})
	}

	now := s.now()
	anchor := now
	if raw := c.QueryParam("anchor"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid anchor"})
		}
		anchor = parsed
	}

	p := timegrid.Project(mode, anchor, now)

	view, err := s.collab.FetchScheduleView(c.Request().Context(), p.WindowStart, p.WindowEnd)
	if err != nil {
		metrics.IncViewFetch("error")
		s.bus.Publish(events.Notice{Topic: events.TopicFetchFailed, Payload: err.Error()})
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "schedule fetch failed"})
	}
	metrics.IncViewFetch("ok")

	plan := layout.Compute(&p, view.Events, now)

	filterMode := layout.FilterMode(c.QueryParam("filter"))
	if filterMode == "" {
		filterMode = layout.FilterAll
	}
	resources := layout.FilterResources(view.Resources, plan, filterMode, c.QueryParam("q"))

	return c.JSON(http.StatusOK, timelineResponse{
		Projection: p,
		Plan:       plan,
		Resources:  resources,
		Events:     view.Events,
	})
}

// CheckConflict handles POST /v1/bookings/check: an advisory overlap
// probe used before committing a new booking.
func (s *Server) CheckConflict(c echo.Context) error {
	var req struct {
		ResourceID     int64     `json:"resource_id"`
		Start          time.Time `json:"start"`
		End            time.Time `json:"end"`
		ExcludeEventID int64     `json:"exclude_event_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if !req.End.After(req.Start) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": lifecycle.ErrEndBeforeStart.Error()})
	}

	conflict, err := s.collab.CheckConflict(c.Request().Context(), req.ResourceID, req.Start, req.End, req.ExcludeEventID)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "conflict check failed"})
	}
	if conflict {
		metrics.IncConflictDetected()
	}
	return c.JSON(http.StatusOK, echo.Map{"has_conflict": conflict})
}

// CreateMaintenance handles POST /v1/maintenance. When end is omitted
// the block spans the configured default duration.
func (s *Server) CreateMaintenance(c echo.Context) error {
	var req struct {
		ResourceID int64     `json:"resource_id"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.End.IsZero() {
		req.End = req.Start.Add(time.Duration(s.grid.MaintenanceBlockHours) * time.Hour)
	}
	if err := lifecycle.ValidateMaintenance(req.Start, req.End); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	err := s.collab.SubmitCreateMaintenance(c.Request().Context(), req.ResourceID, req.Start, req.End)
	s.record(c, intent.KindCreateMaintenance, 0, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected maintenance block"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"status": "accepted"})
}

// ChangeStatus handles POST /v1/events/:id/status. With force=true the
// transition table and time guards are bypassed; maintenance blocks
// stay out of the lifecycle either way.
func (s *Server) ChangeStatus(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		Status model.Status `json:"status"`
		Force  bool         `json:"force"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	kind := intent.KindStatusChange
	var err error
	if req.Force {
		kind = intent.KindForceStatus
		err = s.fsm.ForceCheck(ev, req.Status)
	} else {
		err = s.fsm.Check(ev, req.Status, s.now())
	}
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	err = s.collab.SubmitStatusChange(c.Request().Context(), ev.ID, req.Status)
	s.record(c, kind, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected status change"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted"})
}

// ChangeEnd handles POST /v1/events/:id/end.
func (s *Server) ChangeEnd(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		NewEnd time.Time `json:"new_end"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := lifecycle.ValidateEndChange(ev, req.NewEnd); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	err := s.collab.SubmitDateChange(c.Request().Context(), ev.ID, req.NewEnd)
	s.record(c, intent.KindDateChange, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected date change"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted"})
}

// ChangeBuffer handles POST /v1/events/:id/buffer.
func (s *Server) ChangeBuffer(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := lifecycle.ValidateBufferChange(req.Minutes); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	err := s.collab.SubmitBufferChange(c.Request().Context(), ev.ID, req.Minutes)
	s.record(c, intent.KindBufferChange, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected buffer change"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted"})
}

// Split handles POST /v1/events/:id/split.
func (s *Server) Split(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		At time.Time `json:"at"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := lifecycle.ValidateSplit(ev, req.At); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	err := s.collab.SubmitSplit(c.Request().Context(), ev.ID, req.At)
	s.record(c, intent.KindSplit, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected split"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted"})
}

// Reassign handles POST /v1/events/:id/reassign. Without override a
// conflicting target yields 409; with override the colliding bookings
// are force-marked displaced after the move.
func (s *Server) Reassign(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		ResourceID int64   `json:"resource_id"`
		Price      float64 `json:"price"`
		Override   bool    `json:"override"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := lifecycle.ValidateReassign(ev); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	bumped, err := s.conflictingOnResource(c, req.ResourceID, ev)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "conflict check failed"})
	}
	if len(bumped) > 0 && !req.Override {
		metrics.IncConflictDetected()
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "target resource has conflicting bookings",
			"conflict": bumpedIDs(bumped),
		})
	}

	err = s.collab.SubmitReassign(ctx, ev.ID, req.ResourceID, req.Price)
	s.record(c, intent.KindReassign, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected reassign"})
	}

	displaced := make([]int64, 0, len(bumped))
	for _, victim := range bumped {
		// Maintenance blocks never enter the booking lifecycle; they
		// stay in place and keep the conflict visible.
		if victim.Status == model.StatusMaintenance {
			continue
		}
		if err := s.collab.SubmitStatusChange(ctx, victim.ID, model.StatusDisplaced); err != nil {
			s.record(c, intent.KindForceStatus, victim.ID, err)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": fmt.Sprintf("failed to displace booking %d", victim.ID)})
		}
		s.record(c, intent.KindForceStatus, victim.ID, nil)
		displaced = append(displaced, victim.ID)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "accepted", "displaced": displaced})
}

// ProcessReturn handles POST /v1/events/:id/return. A return before
// the scheduled end shortens the booking first; either way the rental
// leaves the ongoing state.
func (s *Server) ProcessReturn(c echo.Context) error {
	ev, httpErr := s.eventFromPath(c)
	if ev == nil {
		return httpErr
	}

	var req struct {
		FinalPrice   float64 `json:"final_price"`
		RefundAmount float64 `json:"refund_amount"`
		ShouldRefund bool    `json:"should_refund"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	now := s.now()
	if err := s.fsm.Check(ev, model.StatusCompleted, now); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	if lifecycle.IsEarlyReturn(ev, now) {
		err := s.collab.SubmitEarlyReturn(ctx, ev.ID, now, req.FinalPrice, req.RefundAmount, req.ShouldRefund)
		s.record(c, intent.KindEarlyReturn, ev.ID, err)
		if err != nil {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected early return"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "accepted", "early": true})
	}

	err := s.collab.SubmitStatusChange(ctx, ev.ID, model.StatusCompleted)
	s.record(c, intent.KindStatusChange, ev.ID, err)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "backend rejected return"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "accepted", "early": false})
}

// Export handles GET /v1/export?start=&end= and streams an xlsx
// workbook of the window plus the intent journal.
func (s *Server) Export(c echo.Context) error {
	now := s.now()
	start := timegrid.StartOfWeek(now)
	end := start.AddDate(0, 0, 7)

	if raw := c.QueryParam("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid start"})
		}
		start = parsed
	}
	if raw := c.QueryParam("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid end"})
		}
		end = parsed
	}
	if !end.After(start) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "end must be after start"})
	}

	ctx := c.Request().Context()
	view, err := s.collab.FetchScheduleView(ctx, start, end)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "schedule fetch failed"})
	}

	var journal []audit.Entry
	if s.store != nil {
		journal, err = s.store.Recent(ctx, 1000)
		if err != nil {
			s.logger.Error().Err(err).Msg("journal read failed during export")
		}
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, view, journal); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "workbook generation failed"})
	}

	filename := export.GenerateFilename(start, end)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, filename))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// Journal handles GET /v1/journal?limit=.
func (s *Server) Journal(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusOK, []audit.Entry{})
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}
	entries, err := s.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "journal read failed"})
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// EventJournal handles GET /v1/events/:id/journal.
func (s *Server) EventJournal(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if s.store == nil {
		return c.JSON(http.StatusOK, []audit.Entry{})
	}
	entries, err := s.store.ByEvent(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "journal read failed"})
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// eventFromPath resolves :id to a live event. On failure the error
// response is already written; callers must bail out when the event
// is nil.
func (s *Server) eventFromPath(c echo.Context) (*model.Event, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ev, err := s.findEvent(c, id)
	if errors.Is(err, errEventNotFound) {
		return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	}
	if err != nil {
		return nil, c.JSON(http.StatusBadGateway, echo.Map{"error": "schedule fetch failed"})
	}
	return ev, nil
}

func (s *Server) findEvent(c echo.Context, id int64) (*model.Event, error) {
	now := s.now()
	view, err := s.collab.FetchScheduleView(c.Request().Context(), now.Add(-lookupPast), now.Add(lookupFuture))
	if err != nil {
		return nil, err
	}
	for i := range view.Events {
		if view.Events[i].ID == id {
			return &view.Events[i], nil
		}
	}
	return nil, errEventNotFound
}

// conflictingOnResource returns bookings on resourceID that would
// collide with ev's interval, buffers included, ev itself excluded.
func (s *Server) conflictingOnResource(c echo.Context, resourceID int64, ev *model.Event) ([]model.Event, error) {
	now := s.now()
	view, err := s.collab.FetchScheduleView(c.Request().Context(), now.Add(-lookupPast), now.Add(lookupFuture))
	if err != nil {
		return nil, err
	}

	moved := *ev
	moved.ResourceID = resourceID

	var out []model.Event
	for _, other := range view.Events {
		if other.ID == ev.ID || other.ResourceID != resourceID {
			continue
		}
		if !other.Status.CountsForConflict() {
			continue
		}
		if moved.OverlapsWith(&other) {
			out = append(out, other)
		}
	}
	return out, nil
}

func bumpedIDs(evs []model.Event) []int64 {
	ids := make([]int64, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	return ids
}

// record writes an intent outcome to the journal and fans it out on
// the bus.
func (s *Server) record(c echo.Context, kind intent.Kind, eventID int64, err error) {
	out := intent.Outcome{
		Intent: intent.Intent{ID: uuid.NewString(), Kind: kind, EventID: eventID},
		Err:    err,
	}

	if s.store != nil {
		if recErr := s.store.Record(c.Request().Context(), out); recErr != nil {
			s.logger.Error().Err(recErr).Msg("journal write failed")
		}
	}

	topic := events.TopicIntentResolved
	if err != nil {
		topic = events.TopicIntentFailed
		metrics.IncIntentFailed(string(kind))
	} else {
		metrics.IncIntentDispatched(string(kind))
	}
	s.bus.Publish(events.Notice{Topic: topic, EventID: eventID, Payload: out})
}
