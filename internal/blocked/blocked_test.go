package blocked

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/user/autoengage/internal/action"
)

var feedback = action.Result{BlockedSignal: true, RawStatus: "feedback_required"}

func TestRegistry_Signals(t *testing.T) {
	tests := []struct {
		name        string
		protection  bool
		result      action.Result
		wantBlocked bool
	}{
		{name: "protected feedback blocks", protection: true, result: feedback, wantBlocked: true},
		{name: "protected plain failure", protection: true, result: action.Result{RawStatus: "400"}},
		{name: "protected success", protection: true, result: action.Result{Succeeded: true}},
		{name: "unprotected feedback ignored", protection: false, result: feedback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.protection, 0)
			newly := r.RecordSignal(action.Comment, tt.result)
			assert.Equal(t, tt.wantBlocked, newly)
			assert.Equal(t, tt.wantBlocked, r.IsBlocked(action.Comment))
			assert.False(t, r.IsBlocked(action.Like))
		})
	}
}

func TestRegistry_StaysBlockedUntilClear(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := New(true, 0).WithClock(func() time.Time { return now })

	assert.True(r.RecordSignal(action.Comment, feedback))
	assert.False(r.RecordSignal(action.Comment, feedback), "already blocked")

	now = now.Add(30 * 24 * time.Hour)
	assert.True(r.IsBlocked(action.Comment))

	r.Clear(action.Comment)
	assert.False(r.IsBlocked(action.Comment))
}

func TestRegistry_Cooldown(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := New(true, time.Hour).WithClock(func() time.Time { return now })

	r.RecordSignal(action.Like, feedback)
	st := r.Snapshot(action.Like)
	assert.True(st.Blocked)
	assert.Equal(now.Add(time.Hour), st.BlockedUntil)

	now = now.Add(59 * time.Minute)
	assert.True(r.IsBlocked(action.Like))

	now = now.Add(time.Minute)
	assert.False(r.IsBlocked(action.Like))
	assert.False(r.Snapshot(action.Like).Blocked)
}

func TestRegistry_UnprotectedIgnoresRestoredBlock(t *testing.T) {
	r := New(false, 0)
	r.Restore([]action.State{{Type: action.Comment, Blocked: true}})
	assert.False(t, r.IsBlocked(action.Comment))
	assert.False(t, r.Snapshot(action.Comment).Blocked, "an unenforced block is not reported or saved")
}

func TestRegistry_ClearAll(t *testing.T) {
	r := New(true, 0)
	r.Restore([]action.State{
		{Type: action.Comment, Blocked: true},
		{Type: action.Follow, Blocked: true},
	})
	assert.True(t, r.IsBlocked(action.Follow))

	r.ClearAll()
	for _, typ := range action.All {
		assert.False(t, r.IsBlocked(typ), typ)
	}
}
