package blocked

import (
	"sync"
	"time"

	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/logging"
)

type entry struct {
	since time.Time
	until time.Time
}

// Registry tracks action types the platform has flagged as abusive.
//
// With protection disabled the registry never blocks and ignores signals. With a
// cooldown of 0 a block only ends with Clear; otherwise it also expires after cooldown.
type Registry struct {
	mu         sync.Mutex
	protection bool
	cooldown   time.Duration
	entries    map[action.Type]entry
	now        func() time.Time
}

func New(protection bool, cooldown time.Duration) *Registry {
	return &Registry{
		protection: protection,
		cooldown:   cooldown,
		entries:    make(map[action.Type]entry),
		now:        time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Protected() bool {
	return r.protection
}

func (r *Registry) IsBlocked(typ action.Type) bool {
	if !r.protection {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedLocked(typ)
}

func (r *Registry) blockedLocked(typ action.Type) bool {
	e, ok := r.entries[typ]
	if !ok {
		return false
	}
	if !e.until.IsZero() && !r.now().Before(e.until) {
		logging.Logger.Infof("cooldown for blocked action %s expired", typ)
		delete(r.entries, typ)
		return false
	}
	return true
}

// RecordSignal blocks typ when res carries an abuse signal. It reports whether typ
// became newly blocked.
func (r *Registry) RecordSignal(typ action.Type, res action.Result) bool {
	if !r.protection || !res.BlockedSignal {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.blockedLocked(typ) {
		return false
	}
	now := r.now()
	e := entry{since: now}
	if r.cooldown > 0 {
		e.until = now.Add(r.cooldown)
	}
	r.entries[typ] = e
	return true
}

func (r *Registry) Clear(typ action.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, typ)
}

func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[action.Type]entry)
}

// Snapshot fills the blocked fields of a State for typ. Without protection nothing is
// reported as blocked, restored entries included.
func (r *Registry) Snapshot(typ action.Type) action.State {
	st := action.State{Type: typ}
	if !r.protection {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.blockedLocked(typ) {
		e := r.entries[typ]
		st.Blocked = true
		st.BlockedSince = e.since
		st.BlockedUntil = e.until
	}
	return st
}

func (r *Registry) Restore(states []action.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range states {
		if st.Blocked {
			r.entries[st.Type] = entry{since: st.BlockedSince, until: st.BlockedUntil}
		}
	}
}
