package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
	"marketfeed/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_ConsumeAndWait(t *testing.T) {
	t.Parallel()

	clock := newClock()
	tb := ratelimit.NewTokenBucket(2, 4, clock.Now)

	for i := range 4 {
		ok, _ := tb.Consume(1)
		require.Truef(t, ok, "burst token %d", i)
	}

	ok, wait := tb.Consume(1)
	require.False(t, ok)
	assert.InDelta(t, 500*time.Millisecond, wait, float64(5*time.Millisecond), "one token at 2/s")

	ok, wait = tb.Consume(3)
	require.False(t, ok)
	assert.InDelta(t, 1500*time.Millisecond, wait, float64(5*time.Millisecond), "a rejection leaves the bucket untouched")

	clock.Advance(500 * time.Millisecond)
	ok, _ = tb.Consume(1)
	require.True(t, ok)
}

func TestSlidingWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := ratelimit.NewSlidingWindow(time.Minute, 2)

	require.True(t, w.Allow(start))
	require.True(t, w.Allow(start.Add(10*time.Second)))
	ok, retry := w.Check(start.Add(20 * time.Second))
	require.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	require.True(t, w.Allow(start.Add(61*time.Second)), "oldest stamp left the window")
	assert.Equal(t, 2, w.Count(start.Add(61*time.Second)))
}

func TestLimiter_RejectionConsumesNothing(t *testing.T) {
	t.Parallel()

	// Arrange: bucket with plenty of tokens, minute window of 3.
	clock := newClock()
	l := ratelimit.New(ratelimit.Limits{PerSecond: 100, Burst: 100, PerMinute: 3, PerHour: 100}, 10, ratelimit.WithClock(clock.Now))

	for range 3 {
		require.True(t, l.Allow("alice").Allowed)
	}

	// Act: the minute window rejects.
	d := l.Allow("alice")

	// Assert: rejected with the minute reason and a retry hint.
	require.False(t, d.Allowed)
	assert.Equal(t, ratelimit.ReasonMinute, d.Reason)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// Assert: other keys are independent.
	assert.True(t, l.Allow("bob").Allowed)

	// Assert: after the window slides the key is admitted again.
	clock.Advance(time.Minute + time.Millisecond)
	assert.True(t, l.Allow("alice").Allowed)
}

func TestLimiter_HourWindow(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := ratelimit.New(ratelimit.Limits{PerMinute: 10, PerHour: 2}, 10, ratelimit.WithClock(clock.Now))

	require.True(t, l.Allow("k").Allowed)
	clock.Advance(10 * time.Minute)
	require.True(t, l.Allow("k").Allowed)
	clock.Advance(10 * time.Minute)

	d := l.Allow("k")
	require.False(t, d.Allowed)
	assert.Equal(t, ratelimit.ReasonHour, d.Reason)
	assert.Equal(t, 40*time.Minute, d.RetryAfter)
}

func TestLimiter_BucketRejectionKeepsWindowsClean(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := ratelimit.New(ratelimit.Limits{PerSecond: 1, Burst: 1, PerMinute: 2}, 10, ratelimit.WithClock(clock.Now))

	require.True(t, l.Allow("k").Allowed)

	d := l.Allow("k")
	require.False(t, d.Allowed)
	assert.Equal(t, ratelimit.ReasonBucket, d.Reason)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(5*time.Millisecond))

	// The rejected call did not count towards the minute window.
	clock.Advance(time.Second)
	require.True(t, l.Allow("k").Allowed)
}

func TestLimiter_CheckReturnsExceededError(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := ratelimit.New(ratelimit.Limits{PerMinute: 1}, 10, ratelimit.WithClock(clock.Now))

	require.NoError(t, l.Check("k"))
	err := l.Check("k")

	require.ErrorIs(t, err, ratelimit.ErrExceeded)
	var exceeded *ratelimit.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "k", exceeded.Key)
	assert.Positive(t, exceeded.RetryAfter)
}

func TestLimiter_ConcurrentAdmissionNeverExceedsWindow(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.Limits{PerMinute: 25}, 10)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), allowed.Load())
}

func TestLimiter_SweepAndBound(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := ratelimit.New(ratelimit.Limits{PerMinute: 5}, 2, ratelimit.WithClock(clock.Now))

	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	assert.Equal(t, 2, l.Len(), "least recently used key is dropped")

	clock.Advance(time.Hour)
	l.Allow("d")

	removed := l.Sweep(30 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
}

type countingProvider struct {
	calls atomic.Int64
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Fetch(context.Context, provider.Request) (model.Batch, error) {
	p.calls.Add(1)
	return model.Batch{Kind: model.MarketData}, nil
}

func TestGuard(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}

	assert.Same(t, provider.Provider(inner), ratelimit.Guard(inner, ratelimit.Limits{}), "no limits, no wrapper")

	guarded := ratelimit.Guard(inner, ratelimit.Limits{PerMinute: 1})
	assert.Equal(t, "counting", guarded.Name())

	_, err := guarded.Fetch(t.Context(), provider.Request{Category: model.MarketData})
	require.NoError(t, err)

	_, err = guarded.Fetch(t.Context(), provider.Request{Category: model.MarketData})
	require.ErrorIs(t, err, ratelimit.ErrExceeded)
	assert.Equal(t, int64(1), inner.calls.Load(), "rejected call never reaches the provider")
}
