package layout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgrid/internal/model"
	"fleetgrid/internal/timegrid"
)

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

// weekProjection covers Mon 16 Mar .. Mon 23 Mar 2026.
func weekProjection(now time.Time) timegrid.Projection {
	return timegrid.Project(timegrid.ModeWeek, at(18, 0), now)
}

func findBox(t *testing.T, plan Plan, eventID int64) Box {
	t.Helper()
	for _, b := range plan.Boxes {
		if b.EventID == eventID {
			return b
		}
	}
	t.Fatalf("no box for event %d", eventID)
	return Box{}
}

func TestCompute_PositionAndWidth(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)

	box := plan.Boxes[0]
	// Tuesday 09:00 is 33 hours after window start.
	assert.InDelta(t, 33.0, box.Left, 1e-9)
	assert.InDelta(t, 48.0, box.Width, 1e-9)
}

// An event starting before the window is truncated at the left edge:
// width covers exactly minutes(windowStart, end), never the pre-window
// portion.
func TestCompute_ClipsLeftEdge(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(14, 9), End: at(17, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)

	box := plan.Boxes[0]
	assert.Equal(t, 0.0, box.Left)
	assert.InDelta(t, 33.0, box.Width, 1e-9) // Mon 00:00 .. Tue 09:00
}

func TestCompute_ClipsRightEdge(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(22, 12), End: at(25, 12), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)

	box := plan.Boxes[0]
	assert.InDelta(t, p.TotalWidthUnits-box.Left, box.Width, 1e-9)
}

func TestCompute_ExcludesEventsOutsideWindow(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(10, 9), End: at(12, 9), Status: model.StatusConfirmed},
		{ID: 2, ResourceID: 1, Start: at(24, 9), End: at(26, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	assert.Empty(t, plan.Boxes)
}

func TestCompute_MinimumVisibleWidth(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	// Ends five minutes into the window; must still be clickable.
	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(15, 9), End: time.Date(2026, 3, 16, 0, 5, 0, 0, time.UTC), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)
	assert.InDelta(t, MinVisibleMinutes*p.UnitsPerMinute, plan.Boxes[0].Width, 1e-9)
}

func TestCompute_DegenerateDurationRendersOneDay(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(17, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)
	assert.InDelta(t, 24.0, plan.Boxes[0].Width, 1e-9)
}

func TestCompute_BufferBand(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), BufferMinutes: 120, Status: model.StatusConfirmed},
		{ID: 2, ResourceID: 1, Start: at(20, 9), End: at(21, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)

	box := findBox(t, plan, 1)
	require.NotNil(t, box.Buffer)
	assert.InDelta(t, p.Offset(at(19, 9)), box.Buffer.Left, 1e-9)
	assert.InDelta(t, 2.0, box.Buffer.Width, 1e-9)

	noBuffer := findBox(t, plan, 2)
	assert.Nil(t, noBuffer.Buffer)
}

func TestCompute_BufferBandOutsideWindowOmitted(t *testing.T) {
	now := at(16, 0)
	p := timegrid.Project(timegrid.ModeDay, at(19, 0), now)

	// Event ends exactly at the next day's start; band lies fully
	// beyond the window.
	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(19, 9), End: at(20, 0), BufferMinutes: 60, Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)
	require.Len(t, plan.Boxes, 1)
	assert.Nil(t, plan.Boxes[0].Buffer)
}

func TestClassify_PriorityOrdering(t *testing.T) {
	now := at(20, 12)

	tests := []struct {
		name     string
		event    model.Event
		others   []model.Event
		expected VisualState
	}{
		{
			name:     "maintenance wins over everything",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusMaintenance},
			others:   []model.Event{{ID: 2, ResourceID: 1, Start: at(18, 9), End: at(20, 9), Status: model.StatusConfirmed}},
			expected: StateMaintenance,
		},
		{
			name:     "stored displaced status",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusDisplaced},
			expected: StateDisplaced,
		},
		{
			name:     "computed overlap beats ongoing",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(21, 9), Status: model.StatusOngoing},
			others:   []model.Event{{ID: 2, ResourceID: 1, Start: at(18, 9), End: at(22, 9), Status: model.StatusConfirmed}},
			expected: StateDisplaced,
		},
		{
			name:     "buffer-only contact still counts as overlap",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), BufferMinutes: 120, Status: model.StatusConfirmed},
			others:   []model.Event{{ID: 2, ResourceID: 1, Start: at(19, 10), End: at(20, 9), Status: model.StatusConfirmed}},
			expected: StateDisplaced,
		},
		{
			name:     "back-to-back with buffer gap is no conflict",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), BufferMinutes: 120, Status: model.StatusConfirmed},
			others:   []model.Event{{ID: 2, ResourceID: 1, Start: at(19, 11), End: at(20, 9), Status: model.StatusConfirmed}},
			expected: StateConfirmed,
		},
		{
			name:     "overlap on another resource ignored",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(21, 9), End: at(22, 9), Status: model.StatusConfirmed},
			others:   []model.Event{{ID: 2, ResourceID: 2, Start: at(21, 9), End: at(22, 9), Status: model.StatusConfirmed}},
			expected: StateConfirmed,
		},
		{
			name:     "cancelled neighbour ignored for conflicts",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(21, 9), End: at(22, 9), Status: model.StatusConfirmed},
			others:   []model.Event{{ID: 2, ResourceID: 1, Start: at(21, 9), End: at(22, 9), Status: model.StatusCancelled}},
			expected: StateConfirmed,
		},
		{
			name:     "completed is frozen",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusCompleted},
			expected: StateCompleted,
		},
		{
			name:     "ongoing past end is overdue, never plain ongoing",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusOngoing},
			expected: StateOverdueReturn,
		},
		{
			name:     "ongoing before end",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(19, 9), End: at(22, 9), Status: model.StatusOngoing},
			expected: StateOngoing,
		},
		{
			name:     "confirmed past start is late arrival",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(20, 9), End: at(22, 9), Status: model.StatusConfirmed},
			expected: StateLateArrival,
		},
		{
			name:     "confirmed before start",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(21, 9), End: at(22, 9), Status: model.StatusConfirmed},
			expected: StateConfirmed,
		},
		{
			name:     "pending is status-direct",
			event:    model.Event{ID: 1, ResourceID: 1, Start: at(21, 9), End: at(22, 9), Status: model.StatusPending},
			expected: StatePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := append([]model.Event{tt.event}, tt.others...)
			assert.Equal(t, tt.expected, Classify(&tt.event, all, now))
		})
	}
}

func TestCompute_ActiveResources(t *testing.T) {
	now := at(16, 0)
	p := weekProjection(now)

	events := []model.Event{
		{ID: 1, ResourceID: 1, Start: at(17, 9), End: at(19, 9), Status: model.StatusConfirmed},
		{ID: 2, ResourceID: 2, Start: at(17, 9), End: at(19, 9), Status: model.StatusCancelled},
		{ID: 3, ResourceID: 3, Start: at(25, 9), End: at(26, 9), Status: model.StatusConfirmed},
	}
	plan := Compute(&p, events, now)

	assert.True(t, plan.ActiveResources[1])
	assert.False(t, plan.ActiveResources[2], "cancelled events do not book a resource")
	assert.False(t, plan.ActiveResources[3], "events outside the window do not count")
}
