package action

import (
	"context"
	"fmt"
	"time"
)

// Type is the category of an automated action. All per-type state is keyed by it.
type Type string

const (
	Like     Type = "like"
	Unlike   Type = "unlike"
	Comment  Type = "comment"
	Reply    Type = "reply"
	Follow   Type = "follow"
	Unfollow Type = "unfollow"
	Message  Type = "message"
)

// All lists every known action type in a stable order.
var All = []Type{Like, Unlike, Comment, Reply, Follow, Unfollow, Message}

func (t Type) Valid() bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// Parse converts a string into a known Type.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return t, nil
}

// Request is a single outbound action. Target is a media id or user id depending on Type.
type Request struct {
	Type    Type
	Target  string
	Payload map[string]string
}

// Result is the executor's classification of the remote response.
type Result struct {
	Succeeded     bool
	BlockedSignal bool
	RawStatus     string
}

// Executor performs the remote call for a request.
//
// Implementations must map an abuse/spam feedback response to BlockedSignal=true and
// Succeeded=false, a normal success to Succeeded=true, and every other failure
// (transport errors included) to both false.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) Result

func (f ExecutorFunc) Execute(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// State is the persisted throttling state of one action type.
type State struct {
	Type         Type
	Count        int
	WindowStart  time.Time
	Blocked      bool
	BlockedSince time.Time
	BlockedUntil time.Time
}

// StateStore persists throttling state across restarts.
type StateStore interface {
	LoadStates(ctx context.Context) ([]State, error)
	SaveState(ctx context.Context, st State) error
}

// SharedQuota is implemented by stores that several processes driving one account use at
// the same time. The stored count is then the one that limits attempts. Such stores leave
// Count and WindowStart alone in SaveState; only ReserveSlot and ReleaseSlot change them.
type SharedQuota interface {
	// ReserveSlot takes one attempt slot of typ when fewer than limit attempts were made
	// in the current window, starting a new window at now once the stored one is older
	// than window. It returns the stored count and window start after the call.
	ReserveSlot(ctx context.Context, typ Type, limit int, now time.Time, window time.Duration) (st State, ok bool, err error)
	// ReleaseSlot gives back a slot that was reserved in the window starting at
	// windowStart but never used.
	ReleaseSlot(ctx context.Context, typ Type, windowStart time.Time) error
}
