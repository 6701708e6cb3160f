package pacing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/user/autoengage/internal/action"
)

// Range bounds the random pause taken after an action.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Controller draws randomized delays per action type so requests never follow a fixed
// interval.
type Controller struct {
	mu     sync.Mutex
	ranges map[action.Type]Range
	rng    *rand.Rand
}

func New(ranges map[action.Type]Range) *Controller {
	return NewWithSource(ranges, rand.NewSource(time.Now().UnixNano()))
}

func NewWithSource(ranges map[action.Type]Range, src rand.Source) *Controller {
	r := make(map[action.Type]Range, len(ranges))
	for t, v := range ranges {
		r[t] = v
	}
	return &Controller{ranges: r, rng: rand.New(src)}
}

// DelayBeforeNext returns how long to wait before the next action of typ.
// Types without a range get no delay.
func (c *Controller) DelayBeforeNext(typ action.Type) time.Duration {
	rg := c.ranges[typ]

	c.mu.Lock()
	defer c.mu.Unlock()
	return pick(c.rng, rg.Min, rg.Max)
}

func pick(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}

// Between returns a uniform random duration in [min, max] from the shared source.
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
