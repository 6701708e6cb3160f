package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/autoengage/internal/action"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "autoengage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	states, err := s.LoadStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)

	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveState(ctx, action.State{Type: action.Like, Count: 3, WindowStart: start}))
	require.NoError(t, s.SaveState(ctx, action.State{
		Type:         action.Comment,
		Count:        1,
		WindowStart:  start,
		Blocked:      true,
		BlockedSince: start.Add(time.Minute),
	}))
	// Later saves replace earlier ones.
	require.NoError(t, s.SaveState(ctx, action.State{Type: action.Like, Count: 4, WindowStart: start}))

	states, err = s.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	comment, like := states[0], states[1]
	assert.Equal(t, action.Comment, comment.Type)
	assert.True(t, comment.Blocked)
	assert.True(t, comment.BlockedSince.Equal(start.Add(time.Minute)))
	assert.True(t, comment.BlockedUntil.IsZero())

	assert.Equal(t, action.Like, like.Type)
	assert.Equal(t, 4, like.Count)
	assert.False(t, like.Blocked)
	assert.True(t, like.WindowStart.Equal(start))
}

func TestStore_ActivityLog(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.LogActivity("Action", "Commenting on m1"))
	require.NoError(t, s.LogActivity("Success", "Commented on m1"))
	require.NoError(t, s.LogActivity("Denied", "comment on m2"))

	recent, err := s.RecentActivity(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Denied", recent[0].Kind)
	assert.Equal(t, "Success", recent[1].Kind)
	assert.Equal(t, "Commented on m1", recent[1].Metadata)
	assert.False(t, recent[0].Time.IsZero())
}
