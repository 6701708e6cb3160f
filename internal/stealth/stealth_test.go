package stealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThinkDelay(t *testing.T) {
	h := New()

	start := time.Now()
	assert.NoError(t, h.ThinkDelay(context.Background(), 5*time.Millisecond, 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.ThinkDelay(ctx, time.Hour, 2*time.Hour), context.Canceled)
}
