package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPermitsBurstThenDenies(t *testing.T) {
	l := New(3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("agent-a"), "call %d should be allowed within burst", i)
	}
	assert.False(t, l.Allow("agent-a"))
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1)

	assert.True(t, l.Allow("agent-a"))
	assert.True(t, l.Allow("agent-b"), "a distinct key must have its own bucket")
	assert.False(t, l.Allow("agent-a"))
}

func TestRetryAfterReturnsPositiveDelayWhenExhausted(t *testing.T) {
	l := New(1)
	require := assert.New(t)
	require.True(l.Allow("agent-a"))

	delay := l.RetryAfter("agent-a")
	assert.Greater(t, delay, time.Duration(0))
}

func TestSweepDropsOnlyIdleKeys(t *testing.T) {
	l := New(5)
	l.Allow("stale")
	l.Allow("fresh")

	time.Sleep(5 * time.Millisecond)
	l.Allow("fresh")

	removed := l.Sweep(2 * time.Millisecond)
	assert.Equal(t, 1, removed)

	_, staleTracked := l.lastSeen["stale"]
	_, freshTracked := l.lastSeen["fresh"]
	assert.False(t, staleTracked)
	assert.True(t, freshTracked)
}
