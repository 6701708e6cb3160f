package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/blocked"
	"github.com/user/autoengage/internal/logging"
	"github.com/user/autoengage/internal/pacing"
	"github.com/user/autoengage/internal/quota"
)

// Sleeper suspends the caller for d, returning early with an error if ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Gate decides whether each outbound action may run and feeds the executor's verdict
// back into the quota tracker and blocked-action registry.
//
// Attempts of the same type are serialized, including the pacing pause that follows
// them. Attempts of different types run independently.
type Gate struct {
	exec    action.Executor
	quota   *quota.Tracker
	blocked *blocked.Registry
	pacer   *pacing.Controller
	store   action.StateStore
	shared  action.SharedQuota
	sleep   Sleeper

	locksMu sync.Mutex
	locks   map[action.Type]*sync.Mutex
}

type Option func(*Gate)

// WithStateStore persists state after every change. When s also implements
// action.SharedQuota, attempt slots are reserved in the store so processes sharing it
// share one quota.
func WithStateStore(s action.StateStore) Option {
	return func(g *Gate) {
		g.store = s
		if sq, ok := s.(action.SharedQuota); ok {
			g.shared = sq
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(g *Gate) {
		g.sleep = s
	}
}

func New(exec action.Executor, q *quota.Tracker, b *blocked.Registry, p *pacing.Controller, opts ...Option) *Gate {
	g := &Gate{
		exec:    exec,
		quota:   q,
		blocked: b,
		pacer:   p,
		sleep:   sleepContext,
		locks:   make(map[action.Type]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load restores tracker and registry state from the configured store.
func (g *Gate) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	states, err := g.store.LoadStates(ctx)
	if err != nil {
		return fmt.Errorf("load action state: %w", err)
	}
	g.quota.Restore(states)
	g.blocked.Restore(states)
	for _, st := range states {
		if st.Blocked && g.blocked.IsBlocked(st.Type) {
			blockedGauge.WithLabelValues(st.Type.String()).Set(1)
			logging.Logger.Warnf("action %s restored as blocked since %s", st.Type, st.BlockedSince.Format(time.RFC3339))
		}
	}
	logging.Logger.Infof("restored throttling state for %d action types", len(states))
	return nil
}

// Attempt runs req if its type is neither blocked nor out of quota, then pauses for
// the type's pacing delay. It returns whether the remote action succeeded.
func (g *Gate) Attempt(ctx context.Context, req action.Request) bool {
	typ := req.Type
	lock := g.lockFor(typ)
	lock.Lock()
	defer lock.Unlock()

	if g.blocked.IsBlocked(typ) {
		logging.Logger.Warnf("%s is blocked by platform feedback, skipping %s", typ, req.Target)
		attemptCount.WithLabelValues(typ.String(), outcomeDeniedBlocked).Inc()
		return false
	}
	if !g.quota.CheckAndReserve(typ) {
		logging.Logger.Warnf("daily limit of %d reached for %s, skipping %s", g.quota.Limit(typ), typ, req.Target)
		attemptCount.WithLabelValues(typ.String(), outcomeDeniedQuota).Inc()
		return false
	}
	slot, ok := g.reserveShared(ctx, typ)
	if !ok {
		g.quota.Release(typ)
		g.quota.Adopt(slot)
		logging.Logger.Warnf("shared daily limit of %d reached for %s, skipping %s", g.quota.Limit(typ), typ, req.Target)
		attemptCount.WithLabelValues(typ.String(), outcomeDeniedQuota).Inc()
		return false
	}
	if err := ctx.Err(); err != nil {
		g.quota.Release(typ)
		g.releaseShared(ctx, typ, slot.WindowStart)
		attemptCount.WithLabelValues(typ.String(), outcomeCancelled).Inc()
		return false
	}

	res := g.exec.Execute(ctx, req)

	g.quota.Commit(typ, res)
	if g.blocked.RecordSignal(typ, res) {
		logging.Logger.Errorf("CIRCUIT BREAKER: %s blocked after feedback on %s (%s)", typ, req.Target, res.RawStatus)
		blockedGauge.WithLabelValues(typ.String()).Set(1)
	}
	g.persist(ctx, typ)

	switch {
	case res.BlockedSignal:
		blockedSignalCount.WithLabelValues(typ.String()).Inc()
		attemptCount.WithLabelValues(typ.String(), outcomeBlockedSignal).Inc()
	case res.Succeeded:
		attemptCount.WithLabelValues(typ.String(), outcomeSucceeded).Inc()
	default:
		logging.Logger.Warnf("%s on %s failed: %s", typ, req.Target, res.RawStatus)
		attemptCount.WithLabelValues(typ.String(), outcomeFailed).Inc()
	}

	delay := g.pacer.DelayBeforeNext(typ)
	pacingDelay.WithLabelValues(typ.String()).Observe(delay.Seconds())
	logging.Logger.Debugf("pacing %s for %s", typ, delay)
	if err := g.sleep(ctx, delay); err != nil {
		logging.Logger.Infof("pacing for %s interrupted: %v", typ, err)
	}

	return res.Succeeded
}

// Clear lifts the block on typ.
func (g *Gate) Clear(ctx context.Context, typ action.Type) {
	lock := g.lockFor(typ)
	lock.Lock()
	defer lock.Unlock()

	g.blocked.Clear(typ)
	blockedGauge.WithLabelValues(typ.String()).Set(0)
	logging.Logger.Infof("cleared blocked state for %s", typ)
	g.persist(ctx, typ)
}

func (g *Gate) ClearAll(ctx context.Context) {
	for _, typ := range action.All {
		g.Clear(ctx, typ)
	}
}

// Status reports the current state of every known action type.
func (g *Gate) Status() []action.State {
	out := make([]action.State, 0, len(action.All))
	for _, typ := range action.All {
		out = append(out, g.state(typ))
	}
	return out
}

// Blocked reports whether typ is currently denied by platform feedback.
func (g *Gate) Blocked(typ action.Type) bool {
	return g.blocked.IsBlocked(typ)
}

// Exhausted reports whether typ has no quota left in the current window.
func (g *Gate) Exhausted(typ action.Type) bool {
	return g.quota.IsExhausted(typ)
}

func (g *Gate) state(typ action.Type) action.State {
	st := g.quota.Snapshot(typ)
	b := g.blocked.Snapshot(typ)
	st.Blocked = b.Blocked
	st.BlockedSince = b.BlockedSince
	st.BlockedUntil = b.BlockedUntil
	return st
}

func (g *Gate) persist(ctx context.Context, typ action.Type) {
	if g.store == nil {
		return
	}
	// Saved even after cancellation so the attempt is not lost on shutdown.
	if err := g.store.SaveState(context.WithoutCancel(ctx), g.state(typ)); err != nil {
		logging.Logger.Errorf("failed to persist state for %s: %v", typ, err)
	}
}

// reserveShared takes typ's slot from the shared store, if there is one. When the store
// cannot be reached the local count decides alone.
func (g *Gate) reserveShared(ctx context.Context, typ action.Type) (action.State, bool) {
	if g.shared == nil {
		return action.State{Type: typ}, true
	}
	st, ok, err := g.shared.ReserveSlot(ctx, typ, g.quota.Limit(typ), g.quota.Now(), quota.Window)
	if err != nil {
		logging.Logger.Errorf("shared quota for %s unavailable, using local count: %v", typ, err)
		return action.State{Type: typ}, true
	}
	st.Type = typ
	if ok {
		g.quota.Adopt(st)
	}
	return st, ok
}

func (g *Gate) releaseShared(ctx context.Context, typ action.Type, windowStart time.Time) {
	if g.shared == nil || windowStart.IsZero() {
		return
	}
	if err := g.shared.ReleaseSlot(context.WithoutCancel(ctx), typ, windowStart); err != nil {
		logging.Logger.Errorf("failed to release shared slot for %s: %v", typ, err)
	}
}

func (g *Gate) lockFor(typ action.Type) *sync.Mutex {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()

	l, ok := g.locks[typ]
	if !ok {
		l = &sync.Mutex{}
		g.locks[typ] = l
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
