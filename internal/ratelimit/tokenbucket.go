package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket admits bursts up to capacity and refills at a steady rate.
// It never blocks: a rejected request learns how long until enough tokens
// accumulate.
type TokenBucket struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewTokenBucket returns a full bucket. A non-positive rate disables the
// bucket entirely.
func NewTokenBucket(tokensPerSecond float64, burst int, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(tokensPerSecond)
	if tokensPerSecond <= 0 {
		limit = rate.Inf
	}
	return &TokenBucket{lim: rate.NewLimiter(limit, burst), now: now}
}

// Consume takes n tokens if available. Otherwise the bucket is untouched and
// wait is tokens_needed / rate.
func (tb *TokenBucket) Consume(n int) (ok bool, wait time.Duration) {
	now := tb.now()
	if tb.lim.AllowN(now, n) {
		return true, 0
	}
	if n > tb.lim.Burst() {
		return false, time.Duration(math.MaxInt64)
	}
	missing := float64(n) - tb.lim.TokensAt(now)
	if missing <= 0 {
		missing = float64(n)
	}
	wait = time.Duration(missing / float64(tb.lim.Limit()) * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Tokens reports the tokens currently available.
func (tb *TokenBucket) Tokens() float64 {
	return tb.lim.TokensAt(tb.now())
}
