package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgrid/internal/audit"
	"fleetgrid/internal/config"
	"fleetgrid/internal/events"
	"fleetgrid/internal/model"
)

// stubCollaborator implements intent.Collaborator with overridable
// function fields.
type stubCollaborator struct {
	fetch       func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error)
	status      func(ctx context.Context, eventID int64, status model.Status) error
	dateChange  func(ctx context.Context, eventID int64, newEnd time.Time) error
	earlyReturn func(ctx context.Context, eventID int64, newEnd time.Time, finalPrice, refund float64, shouldRefund bool) error
	reassign    func(ctx context.Context, eventID, resourceID int64, newPrice float64) error
	conflict    func(ctx context.Context, resourceID int64, start, end time.Time, exclude int64) (bool, error)
}

func (s *stubCollaborator) FetchScheduleView(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
	if s.fetch != nil {
		return s.fetch(ctx, start, end)
	}
	return &model.ScheduleView{}, nil
}

func (s *stubCollaborator) SubmitStatusChange(ctx context.Context, eventID int64, status model.Status) error {
	if s.status != nil {
		return s.status(ctx, eventID, status)
	}
	return nil
}

func (s *stubCollaborator) SubmitDateChange(ctx context.Context, eventID int64, newEnd time.Time) error {
	if s.dateChange != nil {
		return s.dateChange(ctx, eventID, newEnd)
	}
	return nil
}

func (s *stubCollaborator) SubmitBufferChange(ctx context.Context, eventID int64, minutes int) error {
	return nil
}

func (s *stubCollaborator) SubmitSplit(ctx context.Context, eventID int64, at time.Time) error {
	return nil
}

func (s *stubCollaborator) SubmitReassign(ctx context.Context, eventID, resourceID int64, newPrice float64) error {
	if s.reassign != nil {
		return s.reassign(ctx, eventID, resourceID, newPrice)
	}
	return nil
}

func (s *stubCollaborator) SubmitEarlyReturn(ctx context.Context, eventID int64, newEnd time.Time, finalPrice, refundAmount float64, shouldRefund bool) error {
	if s.earlyReturn != nil {
		return s.earlyReturn(ctx, eventID, newEnd, finalPrice, refundAmount, shouldRefund)
	}
	return nil
}

func (s *stubCollaborator) SubmitCreateMaintenance(ctx context.Context, resourceID int64, start, end time.Time) error {
	return nil
}

func (s *stubCollaborator) CheckConflict(ctx context.Context, resourceID int64, start, end time.Time, excludeEventID int64) (bool, error) {
	if s.conflict != nil {
		return s.conflict(ctx, resourceID, start, end, excludeEventID)
	}
	return false, nil
}

var apiNow = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, collab *stubCollaborator) (*Server, *audit.Store) {
	t.Helper()
	logger := zerolog.Nop()
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "journal.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := NewServer(collab, store, events.NewBus(), config.GridConfig{MaintenanceBlockHours: 24}, zerolog.Nop())
	s.now = func() time.Time { return apiNow }
	return s, store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func weekView() *model.ScheduleView {
	return &model.ScheduleView{
		Resources: []model.Resource{
			{ID: 1, Title: "VW Golf", Subtitle: "AB-123-CD"},
			{ID: 2, Title: "Skoda Octavia", Subtitle: "EF-456-GH"},
		},
		Events: []model.Event{
			{
				ID: 10, ResourceID: 1, Status: model.StatusConfirmed,
				Start: apiNow.Add(24 * time.Hour), End: apiNow.Add(72 * time.Hour),
			},
			{
				ID: 11, ResourceID: 2, Status: model.StatusOngoing,
				Start: apiNow.Add(-24 * time.Hour), End: apiNow.Add(24 * time.Hour),
			},
		},
	}
}

func TestTimeline(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
	}
	s, _ := newTestServer(t, collab)

	rec := doJSON(t, s, http.MethodGet, "/v1/timeline?mode=week", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp timelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Resources, 2)
	assert.Len(t, resp.Plan.Boxes, 2)
	assert.Equal(t, 7*24*60.0/60.0, resp.Projection.TotalWidthUnits)
}

func TestTimeline_UnknownMode(t *testing.T) {
	s, _ := newTestServer(t, &stubCollaborator{})
	rec := doJSON(t, s, http.MethodGet, "/v1/timeline?mode=year", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeline_FilterAvailable(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
	}
	s, _ := newTestServer(t, collab)

	rec := doJSON(t, s, http.MethodGet, "/v1/timeline?mode=week&filter=available", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp timelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Resources, "both resources carry events this week")
}

func TestChangeStatus_ValidTransition(t *testing.T) {
	var submitted model.Status
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
		status: func(ctx context.Context, eventID int64, status model.Status) error {
			submitted = status
			return nil
		},
	}
	s, store := newTestServer(t, collab)

	// Event 11 is ongoing; completing it is a guided transition.
	rec := doJSON(t, s, http.MethodPost, "/v1/events/11/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusCompleted, submitted)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, int64(11), entries[0].EventID)
}

func TestChangeStatus_CancelRequiresForce(t *testing.T) {
	var submitted []model.Status
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
		status: func(ctx context.Context, eventID int64, status model.Status) error {
			submitted = append(submitted, status)
			return nil
		},
	}
	s, _ := newTestServer(t, collab)

	// Cancellation is reserved for the administrative override.
	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/status", map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, submitted)

	rec = doJSON(t, s, http.MethodPost, "/v1/events/10/status", map[string]any{"status": "cancelled", "force": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.Status{model.StatusCancelled}, submitted)
}

func TestChangeStatus_InvalidTransitionRejected(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
	}
	s, _ := newTestServer(t, collab)

	// Event 10 is confirmed; completed is only reachable from ongoing.
	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/status", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChangeStatus_ForceBypassesGuards(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
	}
	s, _ := newTestServer(t, collab)

	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/status", map[string]any{"status": "completed", "force": true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangeStatus_EventNotFound(t *testing.T) {
	s, _ := newTestServer(t, &stubCollaborator{})
	rec := doJSON(t, s, http.MethodPost, "/v1/events/999/status", map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReassign_ConflictWithoutOverride(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			view := weekView()
			// Make the two events overlap in time so moving 10 onto
			// resource 2 collides with 11.
			view.Events[0].Start = apiNow.Add(-12 * time.Hour)
			view.Events[0].End = apiNow.Add(12 * time.Hour)
			return view, nil
		},
	}
	s, _ := newTestServer(t, collab)

	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/reassign", map[string]any{"resource_id": 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReassign_OverrideDisplacesVictims(t *testing.T) {
	var displaced []int64
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			view := weekView()
			view.Events[0].Start = apiNow.Add(-12 * time.Hour)
			view.Events[0].End = apiNow.Add(12 * time.Hour)
			return view, nil
		},
		status: func(ctx context.Context, eventID int64, status model.Status) error {
			if status == model.StatusDisplaced {
				displaced = append(displaced, eventID)
			}
			return nil
		},
	}
	s, _ := newTestServer(t, collab)

	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/reassign", map[string]any{"resource_id": 2, "override": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{11}, displaced)
}

func TestReassign_OverrideLeavesMaintenanceInPlace(t *testing.T) {
	var statusChanges []int64
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			view := weekView()
			view.Events[0].Start = apiNow.Add(-12 * time.Hour)
			view.Events[0].End = apiNow.Add(12 * time.Hour)
			view.Events = append(view.Events, model.Event{
				ID: 20, ResourceID: 2, Status: model.StatusMaintenance,
				Start: apiNow.Add(-6 * time.Hour), End: apiNow.Add(6 * time.Hour),
			})
			return view, nil
		},
		status: func(ctx context.Context, eventID int64, status model.Status) error {
			statusChanges = append(statusChanges, eventID)
			return nil
		},
	}
	s, _ := newTestServer(t, collab)

	// Without override the maintenance block still blocks the move.
	rec := doJSON(t, s, http.MethodPost, "/v1/events/10/reassign", map[string]any{"resource_id": 2})
	require.Equal(t, http.StatusConflict, rec.Code)

	// With override only the booking is displaced; the block keeps its
	// kind and stays where it is.
	rec = doJSON(t, s, http.MethodPost, "/v1/events/10/reassign", map[string]any{"resource_id": 2, "override": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{11}, statusChanges)

	var resp struct {
		Displaced []int64 `json:"displaced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int64{11}, resp.Displaced)
}

func TestProcessReturn_Early(t *testing.T) {
	var gotEnd time.Time
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
		earlyReturn: func(ctx context.Context, eventID int64, newEnd time.Time, finalPrice, refund float64, shouldRefund bool) error {
			gotEnd = newEnd
			return nil
		},
	}
	s, _ := newTestServer(t, collab)

	// Event 11 is ongoing and ends tomorrow, so this return is early.
	rec := doJSON(t, s, http.MethodPost, "/v1/events/11/return", map[string]any{"final_price": 300})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["early"])
	assert.True(t, gotEnd.Equal(apiNow))
}

func TestCreateMaintenance_DefaultDuration(t *testing.T) {
	s, _ := newTestServer(t, &stubCollaborator{})

	rec := doJSON(t, s, http.MethodPost, "/v1/maintenance", map[string]any{
		"resource_id": 1,
		"start":       apiNow.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestJournalEndpoint(t *testing.T) {
	collab := &stubCollaborator{
		fetch: func(ctx context.Context, start, end time.Time) (*model.ScheduleView, error) {
			return weekView(), nil
		},
	}
	s, _ := newTestServer(t, collab)

	doJSON(t, s, http.MethodPost, "/v1/events/11/status", map[string]any{"status": "completed"})

	rec := doJSON(t, s, http.MethodGet, "/v1/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(11), entries[0].EventID)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &stubCollaborator{})
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
