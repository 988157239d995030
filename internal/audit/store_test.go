package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgrid/internal/intent"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	s, err := NewStore(filepath.Join(t.TempDir(), "journal.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, intent.Outcome{
		Intent: intent.Intent{ID: "a1", Kind: intent.KindStatusChange, EventID: 7, Revision: 1},
	}))
	require.NoError(t, s.Record(ctx, intent.Outcome{
		Intent: intent.Intent{ID: "a2", Kind: intent.KindDateChange, EventID: 7, Revision: 2},
		Err:    errors.New("backend rejected"),
	}))
	require.NoError(t, s.Record(ctx, intent.Outcome{
		Intent:      intent.Intent{ID: "a3", Kind: intent.KindCreateBooking},
		HasConflict: true,
	}))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, "a3", entries[0].IntentID)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "conflict detected", entries[0].Detail)

	assert.Equal(t, "a2", entries[1].IntentID)
	assert.False(t, entries[1].Success)
	assert.Equal(t, "backend rejected", entries[1].Detail)

	assert.Equal(t, "a1", entries[2].IntentID)
	assert.True(t, entries[2].Success)
	assert.Empty(t, entries[2].Detail)
}

func TestStore_ByEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2"} {
		require.NoError(t, s.Record(ctx, intent.Outcome{
			Intent: intent.Intent{ID: id, Kind: intent.KindBufferChange, EventID: 5},
		}))
	}
	require.NoError(t, s.Record(ctx, intent.Outcome{
		Intent: intent.Intent{ID: "other", Kind: intent.KindBufferChange, EventID: 9},
	}))

	entries, err := s.ByEvent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b1", entries[0].IntentID)
	assert.Equal(t, "b2", entries[1].IntentID)
	assert.Equal(t, intent.KindBufferChange, entries[0].Kind)
}
