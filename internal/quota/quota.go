package quota

import (
	"sync"
	"time"

	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/logging"
)

// Window is the rolling period a daily limit applies to.
const Window = 24 * time.Hour

type counter struct {
	count       int
	pending     int
	windowStart time.Time
}

// Tracker counts attempts per action type against a daily limit.
// A limit of 0 disables the type entirely.
type Tracker struct {
	mu       sync.Mutex
	limits   map[action.Type]int
	counters map[action.Type]*counter
	now      func() time.Time
}

func New(limits map[action.Type]int) *Tracker {
	l := make(map[action.Type]int, len(limits))
	for t, v := range limits {
		l[t] = v
	}
	return &Tracker{
		limits:   l,
		counters: make(map[action.Type]*counter),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Limit(typ action.Type) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits[typ]
}

// CheckAndReserve returns false when typ is exhausted. Otherwise it holds one slot for
// the caller until Commit or Release.
func (t *Tracker) CheckAndReserve(typ action.Type) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhaustedLocked(typ) {
		return false
	}
	t.counterLocked(typ).pending++
	return true
}

// Commit consumes the reserved slot. The attempt counts whether or not it succeeded.
func (t *Tracker) Commit(typ action.Type, res action.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterLocked(typ)
	if c.pending > 0 {
		c.pending--
	}
	c.count++
	logging.Logger.Debugf("quota %s: %d/%d (succeeded=%v)", typ, c.count, t.limits[typ], res.Succeeded)
}

// Release returns a reserved slot that was never used.
func (t *Tracker) Release(typ action.Type) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterLocked(typ)
	if c.pending > 0 {
		c.pending--
	}
}

func (t *Tracker) IsExhausted(typ action.Type) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exhaustedLocked(typ)
}

func (t *Tracker) exhaustedLocked(typ action.Type) bool {
	limit, ok := t.limits[typ]
	if !ok {
		logging.Logger.Warnf("no quota configured for action type %q, treating as disabled", typ)
		return true
	}
	if limit <= 0 {
		return true
	}
	c := t.counterLocked(typ)
	return c.count+c.pending >= limit
}

// counterLocked returns the counter for typ, rolling its window first.
func (t *Tracker) counterLocked(typ action.Type) *counter {
	now := t.now()
	c, ok := t.counters[typ]
	if !ok {
		c = &counter{windowStart: now}
		t.counters[typ] = c
		return c
	}
	if now.Sub(c.windowStart) >= Window {
		if c.count > 0 {
			logging.Logger.Infof("quota window for %s elapsed, resetting %d attempts", typ, c.count)
		}
		c.count = 0
		c.windowStart = now
	}
	return c
}

// Snapshot returns the current count and window start of typ.
func (t *Tracker) Snapshot(typ action.Type) action.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterLocked(typ)
	return action.State{Type: typ, Count: c.count, WindowStart: c.windowStart}
}

// Restore loads counts from persisted state. Windows that already elapsed reset on
// the next read.
func (t *Tracker) Restore(states []action.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, st := range states {
		if st.WindowStart.IsZero() {
			continue
		}
		t.counters[st.Type] = &counter{count: st.Count, windowStart: st.WindowStart}
	}
}

// Adopt replaces the counter of st.Type with a count kept outside this process. The
// stored count already includes the slots this tracker holds as pending.
func (t *Tracker) Adopt(st action.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterLocked(st.Type)
	c.count = st.Count - c.pending
	if c.count < 0 {
		c.count = 0
	}
	if !st.WindowStart.IsZero() {
		c.windowStart = st.WindowStart
	}
}

func (t *Tracker) Now() time.Time {
	return t.now()
}
