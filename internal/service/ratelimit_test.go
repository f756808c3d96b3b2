package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestBucket(rate float64, capacity int) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(rate, capacity)
	tb.now = clock.now
	return tb, clock
}

func TestTokenBucketAllowsUpToCapacity(t *testing.T) {
	t.Parallel()

	tb, _ := newTestBucket(1, 3)

	for i := range 3 {
		assert.True(t, tb.Allow("k"), "request %d", i+1)
	}
	assert.False(t, tb.Allow("k"))
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	t.Parallel()

	tb, _ := newTestBucket(1, 1)

	assert.True(t, tb.Allow("10.0.0.1"))
	assert.False(t, tb.Allow("10.0.0.1"))
	assert.True(t, tb.Allow("10.0.0.2"))
}

func TestTokenBucketRefills(t *testing.T) {
	t.Parallel()

	tb, clock := newTestBucket(2, 2)

	assert.True(t, tb.Allow("k"))
	assert.True(t, tb.Allow("k"))
	assert.False(t, tb.Allow("k"))

	clock.t = clock.t.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow("k"))
	assert.False(t, tb.Allow("k"))

	// never above capacity
	clock.t = clock.t.Add(time.Hour)
	assert.True(t, tb.Allow("k"))
	assert.True(t, tb.Allow("k"))
	assert.False(t, tb.Allow("k"))
}

func TestTokenBucketZeroRateNeverRefills(t *testing.T) {
	t.Parallel()

	tb, clock := newTestBucket(0, 1)

	assert.True(t, tb.Allow("k"))

	clock.t = clock.t.Add(time.Hour)
	assert.False(t, tb.Allow("k"))
}

func TestTokenBucketRemoveStale(t *testing.T) {
	t.Parallel()

	tb, clock := newTestBucket(1, 1)

	tb.Allow("old")
	clock.t = clock.t.Add(staleAfter + time.Second)
	tb.Allow("new")

	assert.Equal(t, 1, tb.removeStale())
	assert.Len(t, tb.buckets, 1)
	assert.Contains(t, tb.buckets, "new")
}
