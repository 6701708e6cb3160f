package quota

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/user/autoengage/internal/action"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func attempt(tr *Tracker, typ action.Type) bool {
	if !tr.CheckAndReserve(typ) {
		return false
	}
	tr.Commit(typ, action.Result{})
	return true
}

func TestTracker_ZeroLimitDisables(t *testing.T) {
	assert := assert.New(t)
	tr := New(map[action.Type]int{action.Comment: 0})

	assert.True(tr.IsExhausted(action.Comment))
	assert.False(tr.CheckAndReserve(action.Comment))
	assert.Equal(0, tr.Snapshot(action.Comment).Count)
}

func TestTracker_UnknownTypeIsDisabled(t *testing.T) {
	tr := New(map[action.Type]int{action.Comment: 5})
	assert.True(t, tr.IsExhausted(action.Like))
}

func TestTracker_LimitAndWindowReset(t *testing.T) {
	assert := assert.New(t)
	clock := newClock()
	tr := New(map[action.Type]int{action.Like: 3}).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(attempt(tr, action.Like), "attempt %d", i)
	}
	assert.True(tr.IsExhausted(action.Like))
	assert.False(attempt(tr, action.Like))
	assert.Equal(3, tr.Snapshot(action.Like).Count)

	clock.Advance(Window - time.Second)
	assert.True(tr.IsExhausted(action.Like))

	clock.Advance(time.Second)
	assert.False(tr.IsExhausted(action.Like))
	st := tr.Snapshot(action.Like)
	assert.Equal(0, st.Count)
	assert.Equal(clock.Now(), st.WindowStart)
	assert.True(attempt(tr, action.Like))
}

func TestTracker_FailedAttemptConsumesQuota(t *testing.T) {
	tr := New(map[action.Type]int{action.Follow: 1})

	assert.True(t, tr.CheckAndReserve(action.Follow))
	tr.Commit(action.Follow, action.Result{Succeeded: false, RawStatus: "400"})
	assert.True(t, tr.IsExhausted(action.Follow))
}

func TestTracker_ReservationHoldsSlot(t *testing.T) {
	assert := assert.New(t)
	tr := New(map[action.Type]int{action.Comment: 1})

	assert.True(tr.CheckAndReserve(action.Comment))
	assert.False(tr.CheckAndReserve(action.Comment))

	tr.Release(action.Comment)
	assert.False(tr.IsExhausted(action.Comment))
	assert.Equal(0, tr.Snapshot(action.Comment).Count)
}

func TestTracker_ConcurrentReserveNeverOvershoots(t *testing.T) {
	const limit = 25
	tr := New(map[action.Type]int{action.Like: limit})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if attempt(tr, action.Like) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
	assert.Equal(t, limit, tr.Snapshot(action.Like).Count)
}

func TestTracker_Restore(t *testing.T) {
	assert := assert.New(t)
	clock := newClock()
	tr := New(map[action.Type]int{action.Comment: 5, action.Like: 5}).WithClock(clock.Now)

	tr.Restore([]action.State{
		{Type: action.Comment, Count: 5, WindowStart: clock.Now().Add(-time.Hour)},
		{Type: action.Like, Count: 4, WindowStart: clock.Now().Add(-25 * time.Hour)},
	})

	assert.True(tr.IsExhausted(action.Comment))
	assert.False(tr.IsExhausted(action.Like))
	assert.Equal(0, tr.Snapshot(action.Like).Count)
}

func TestTracker_AdoptCountsPendingOnce(t *testing.T) {
	clock := newClock()
	tr := New(map[action.Type]int{action.Like: 5}).WithClock(clock.Now)

	assert.True(t, tr.CheckAndReserve(action.Like))
	// The stored count of 3 includes the slot reserved above.
	tr.Adopt(action.State{Type: action.Like, Count: 3, WindowStart: clock.Now().Add(-time.Hour)})
	tr.Commit(action.Like, action.Result{Succeeded: true})

	st := tr.Snapshot(action.Like)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, clock.Now().Add(-time.Hour), st.WindowStart)

	tr.Adopt(action.State{Type: action.Like, Count: 5, WindowStart: st.WindowStart})
	assert.True(t, tr.IsExhausted(action.Like))
}
