package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/blocked"
	"github.com/user/autoengage/internal/pacing"
	"github.com/user/autoengage/internal/quota"
)

// scriptedExecutor returns results in order, repeating the last one.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []action.Result
	calls   []action.Request
}

func (e *scriptedExecutor) Execute(ctx context.Context, req action.Request) action.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	if len(e.results) == 0 {
		return action.Result{Succeeded: true, RawStatus: "ok"}
	}
	res := e.results[0]
	if len(e.results) > 1 {
		e.results = e.results[1:]
	}
	return res
}

func (e *scriptedExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

var (
	okResult       = action.Result{Succeeded: true, RawStatus: "ok"}
	failResult     = action.Result{RawStatus: "400 invalid media"}
	feedbackResult = action.Result{BlockedSignal: true, RawStatus: "feedback_required"}
)

type fixture struct {
	gate   *Gate
	exec   *scriptedExecutor
	quota  *quota.Tracker
	sleeps []time.Duration
}

func newFixture(limit int, protection bool, results ...action.Result) *fixture {
	f := &fixture{exec: &scriptedExecutor{results: results}}
	f.quota = quota.New(map[action.Type]int{action.Comment: limit, action.Like: limit})
	p := pacing.New(map[action.Type]pacing.Range{
		action.Comment: {Min: time.Second, Max: 3 * time.Second},
	})
	f.gate = New(f.exec, f.quota, blocked.New(protection, 0), p, WithSleeper(func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}))
	return f
}

func commentReq(target string) action.Request {
	return action.Request{Type: action.Comment, Target: target, Payload: map[string]string{"comment_text": "Yeah great!"}}
}

func TestGate_ZeroLimitNeverExecutes(t *testing.T) {
	for _, protection := range []bool{true, false} {
		f := newFixture(0, protection)
		ctx := context.Background()

		assert.False(t, f.gate.Attempt(ctx, commentReq("m1")))
		assert.False(t, f.gate.Attempt(ctx, commentReq("m2")))
		assert.Equal(t, 0, f.exec.Calls())
		assert.Equal(t, 0, f.quota.Snapshot(action.Comment).Count)
		assert.Empty(t, f.sleeps, "denials do not pace")
	}
}

func TestGate_QuotaExhaustion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(3, true, okResult, failResult, okResult)

	assert.True(f.gate.Attempt(ctx, commentReq("m1")))
	assert.False(f.gate.Attempt(ctx, commentReq("m2")))
	assert.True(f.gate.Attempt(ctx, commentReq("m3")))
	assert.Equal(3, f.exec.Calls())

	assert.False(f.gate.Attempt(ctx, commentReq("m4")))
	assert.Equal(3, f.exec.Calls(), "fourth attempt must not reach the executor")
	assert.True(f.gate.Exhausted(action.Comment))

	// Other types keep their own quota.
	assert.True(f.gate.Attempt(ctx, action.Request{Type: action.Like, Target: "m4"}))
}

func TestGate_QuotaWindowResets(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(2, true)
	f.quota.WithClock(func() time.Time { return now })

	assert.True(f.gate.Attempt(ctx, commentReq("m1")))
	assert.True(f.gate.Attempt(ctx, commentReq("m2")))
	assert.False(f.gate.Attempt(ctx, commentReq("m3")))

	now = now.Add(quota.Window)
	assert.True(f.gate.Attempt(ctx, commentReq("m3")))
	assert.Equal(3, f.exec.Calls())
}

func TestGate_FeedbackWithProtection(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(10, true, feedbackResult, okResult)

	assert.False(f.gate.Attempt(ctx, commentReq("m1")))
	assert.Equal(1, f.quota.Snapshot(action.Comment).Count)
	assert.True(f.gate.Blocked(action.Comment))

	assert.False(f.gate.Attempt(ctx, commentReq("m2")))
	assert.Equal(1, f.exec.Calls(), "blocked type must not reach the executor")
	assert.Equal(1, f.quota.Snapshot(action.Comment).Count, "denials do not consume quota")

	assert.True(f.gate.Attempt(ctx, action.Request{Type: action.Like, Target: "m2"}), "other types unaffected")

	f.gate.Clear(ctx, action.Comment)
	assert.True(f.gate.Attempt(ctx, commentReq("m3")))
	assert.Equal(3, f.exec.Calls())
}

func TestGate_FeedbackWithoutProtection(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(10, false, feedbackResult, feedbackResult, okResult)

	assert.False(f.gate.Attempt(ctx, commentReq("m1")))
	assert.False(f.gate.Blocked(action.Comment))
	assert.False(f.gate.Attempt(ctx, commentReq("m2")))
	assert.True(f.gate.Attempt(ctx, commentReq("m3")))
	assert.Equal(3, f.exec.Calls())
}

func TestGate_PacesAfterEveryExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5, true, okResult, failResult)

	f.gate.Attempt(ctx, commentReq("m1"))
	f.gate.Attempt(ctx, commentReq("m2"))

	require.Len(t, f.sleeps, 2)
	for _, d := range f.sleeps {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestGate_CancelledBeforeExecute(t *testing.T) {
	f := newFixture(1, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, f.gate.Attempt(ctx, commentReq("m1")))
	assert.Equal(t, 0, f.exec.Calls())
	assert.False(t, f.gate.Exhausted(action.Comment), "reservation released")
}

func TestGate_ConcurrentAttemptsRespectLimit(t *testing.T) {
	const limit = 7
	var calls atomic.Int32
	exec := action.ExecutorFunc(func(ctx context.Context, req action.Request) action.Result {
		calls.Add(1)
		return okResult
	})
	g := New(exec, quota.New(map[action.Type]int{action.Like: limit}), blocked.New(true, 0), pacing.New(nil),
		WithSleeper(func(context.Context, time.Duration) error { return nil }))

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Attempt(context.Background(), action.Request{Type: action.Like, Target: "m"}) {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), calls.Load())
	assert.Equal(t, int32(limit), succeeded.Load())
}

type memStore struct {
	mu      sync.Mutex
	states  map[action.Type]action.State
	saveErr error
}

func (m *memStore) LoadStates(ctx context.Context) ([]action.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []action.State
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func (m *memStore) SaveState(ctx context.Context, st action.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[st.Type] = st
	return nil
}

func TestGate_PersistsAndRestores(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := &memStore{states: map[action.Type]action.State{}}
	nop := WithSleeper(func(context.Context, time.Duration) error { return nil })

	exec := &scriptedExecutor{results: []action.Result{okResult, feedbackResult}}
	g := New(exec, quota.New(map[action.Type]int{action.Comment: 10}), blocked.New(true, 0), pacing.New(nil), WithStateStore(store), nop)
	require.NoError(t, g.Load(ctx))
	g.Attempt(ctx, commentReq("m1"))
	g.Attempt(ctx, commentReq("m2"))

	saved := store.states[action.Comment]
	assert.Equal(2, saved.Count)
	assert.True(saved.Blocked)

	// A fresh process picks the state back up.
	exec2 := &scriptedExecutor{}
	g2 := New(exec2, quota.New(map[action.Type]int{action.Comment: 10}), blocked.New(true, 0), pacing.New(nil), WithStateStore(store), nop)
	require.NoError(t, g2.Load(ctx))
	assert.False(g2.Attempt(ctx, commentReq("m3")))
	assert.Equal(0, exec2.Calls())

	g2.Clear(ctx, action.Comment)
	assert.False(store.states[action.Comment].Blocked)
	assert.True(g2.Attempt(ctx, commentReq("m3")))
	assert.Equal(3, store.states[action.Comment].Count)
}

func TestGate_StoreErrorsDoNotDeny(t *testing.T) {
	store := &memStore{states: map[action.Type]action.State{}, saveErr: errors.New("disk full")}
	g := New(&scriptedExecutor{}, quota.New(map[action.Type]int{action.Comment: 10}), blocked.New(true, 0), pacing.New(nil),
		WithStateStore(store), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	assert.True(t, g.Attempt(context.Background(), commentReq("m1")))
}

func TestGate_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10, true, feedbackResult)
	f.gate.Attempt(ctx, commentReq("m1"))

	status := f.gate.Status()
	require.Len(t, status, len(action.All))
	for _, st := range status {
		if st.Type == action.Comment {
			assert.Equal(t, 1, st.Count)
			assert.True(t, st.Blocked)
		} else {
			assert.False(t, st.Blocked, st.Type)
		}
	}
}

// sharedStore keeps one count per type for every gate using it.
type sharedStore struct {
	memStore
	reserveErr error
}

func newSharedStore() *sharedStore {
	return &sharedStore{memStore: memStore{states: map[action.Type]action.State{}}}
}

func (s *sharedStore) SaveState(ctx context.Context, st action.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.states[st.Type]
	cur.Type = st.Type
	cur.Blocked, cur.BlockedSince, cur.BlockedUntil = st.Blocked, st.BlockedSince, st.BlockedUntil
	s.states[st.Type] = cur
	return nil
}

func (s *sharedStore) ReserveSlot(ctx context.Context, typ action.Type, limit int, now time.Time, window time.Duration) (action.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return action.State{}, false, s.reserveErr
	}
	st := s.states[typ]
	st.Type = typ
	if st.WindowStart.IsZero() || now.Sub(st.WindowStart) >= window {
		st.Count, st.WindowStart = 0, now
	}
	ok := st.Count < limit
	if ok {
		st.Count++
	}
	s.states[typ] = st
	return st, ok, nil
}

func (s *sharedStore) ReleaseSlot(ctx context.Context, typ action.Type, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[typ]
	if st.WindowStart.Equal(windowStart) && st.Count > 0 {
		st.Count--
		s.states[typ] = st
	}
	return nil
}

func TestGate_SharedStoreSharesQuota(t *testing.T) {
	ctx := context.Background()
	store := newSharedStore()
	nop := WithSleeper(func(context.Context, time.Duration) error { return nil })

	exec := &scriptedExecutor{}
	gates := make([]*Gate, 2)
	for i := range gates {
		gates[i] = New(exec, quota.New(map[action.Type]int{action.Comment: 3}), blocked.New(true, 0), pacing.New(nil), WithStateStore(store), nop)
		require.NoError(t, gates[i].Load(ctx))
	}

	for i := 0; i < 5; i++ {
		for _, g := range gates {
			g.Attempt(ctx, commentReq(fmt.Sprintf("m%d", i)))
		}
	}

	assert.Equal(t, 3, exec.Calls())
	assert.Equal(t, 3, store.states[action.Comment].Count)
	for _, g := range gates {
		assert.True(t, g.Exhausted(action.Comment))
	}
}

func TestGate_SharedStoreUnavailableUsesLocalCount(t *testing.T) {
	store := newSharedStore()
	store.reserveErr = errors.New("connection refused")
	exec := &scriptedExecutor{}
	g := New(exec, quota.New(map[action.Type]int{action.Comment: 2}), blocked.New(true, 0), pacing.New(nil),
		WithStateStore(store), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	for i := 0; i < 4; i++ {
		g.Attempt(context.Background(), commentReq("m1"))
	}
	assert.Equal(t, 2, exec.Calls())
}

func TestGate_CancelReleasesSharedSlot(t *testing.T) {
	store := newSharedStore()
	exec := &scriptedExecutor{}
	g := New(exec, quota.New(map[action.Type]int{action.Comment: 2}), blocked.New(true, 0), pacing.New(nil),
		WithStateStore(store), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, g.Attempt(ctx, commentReq("m1")))
	assert.Equal(t, 0, exec.Calls())
	assert.Equal(t, 0, store.states[action.Comment].Count)
}
