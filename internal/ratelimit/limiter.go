// Package ratelimit admits or rejects requests per key using a token bucket
// combined with per-minute and per-hour sliding windows.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Limits configures every dimension of a Limiter. Zero disables a dimension.
type Limits struct {
	PerSecond float64 `json:"per_second" yaml:"per_second" validate:"gte=0"`
	Burst     int     `json:"burst" yaml:"burst" validate:"gte=0"`
	PerMinute int     `json:"per_minute" yaml:"per_minute" validate:"gte=0"`
	PerHour   int     `json:"per_hour" yaml:"per_hour" validate:"gte=0"`
}

func (l Limits) Enabled() bool {
	return l.PerSecond > 0 || l.PerMinute > 0 || l.PerHour > 0
}

// Rejection reasons.
const (
	ReasonBucket = "token_bucket"
	ReasonMinute = "minute_window"
	ReasonHour   = "hour_window"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// ErrExceeded is matched by every ExceededError.
var ErrExceeded = errors.New("rate limit exceeded")

// ExceededError is returned when a key is over one of its limits.
type ExceededError struct {
	Key        string
	Reason     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s), retry after %s", e.Key, e.Reason, e.RetryAfter.Round(time.Millisecond))
}

func (e *ExceededError) Is(target error) bool { return target == ErrExceeded }

// DefaultMaxKeys bounds the number of tracked keys.
const DefaultMaxKeys = 10000

type keyState struct {
	mu       sync.Mutex
	bucket   *TokenBucket
	minute   *SlidingWindow
	hour     *SlidingWindow
	lastSeen time.Time
}

// Limiter tracks independent limits per key. Checks for one key are
// serialized; different keys proceed in parallel.
type Limiter struct {
	limits Limits
	now    func() time.Time

	mu   sync.Mutex
	keys *lru.Cache[string, *keyState]
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter tracking at most maxKeys keys; the least recently
// used key is forgotten beyond that.
func New(limits Limits, maxKeys int, opts ...Option) *Limiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	l := &Limiter{limits: limits, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	keys, err := lru.New[string, *keyState](maxKeys)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	l.keys = keys
	return l
}

func (l *Limiter) Limits() Limits { return l.limits }

func (l *Limiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.keys.Get(key); ok {
		return s
	}
	s := &keyState{
		minute: NewSlidingWindow(time.Minute, l.limits.PerMinute),
		hour:   NewSlidingWindow(time.Hour, l.limits.PerHour),
	}
	if l.limits.PerSecond > 0 {
		burst := l.limits.Burst
		if burst <= 0 {
			burst = int(l.limits.PerSecond)
		}
		s.bucket = NewTokenBucket(l.limits.PerSecond, burst, l.now)
	}
	l.keys.Add(key, s)
	return s
}

// Allow admits one request for key only if the bucket and both windows
// admit it. A rejection consumes nothing.
func (l *Limiter) Allow(key string) Decision {
	s := l.state(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	s.lastSeen = now

	okMin, waitMin := s.minute.Check(now)
	okHour, waitHour := s.hour.Check(now)
	if !okMin || !okHour {
		d := Decision{Reason: ReasonMinute, RetryAfter: waitMin}
		if !okHour && waitHour > d.RetryAfter {
			d = Decision{Reason: ReasonHour, RetryAfter: waitHour}
		}
		return d
	}
	if s.bucket != nil {
		if ok, wait := s.bucket.Consume(1); !ok {
			return Decision{Reason: ReasonBucket, RetryAfter: wait}
		}
	}
	s.minute.Record(now)
	s.hour.Record(now)
	return Decision{Allowed: true}
}

// Check is Allow returning an *ExceededError on rejection.
func (l *Limiter) Check(key string) error {
	d := l.Allow(key)
	if d.Allowed {
		return nil
	}
	return &ExceededError{Key: key, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

// Sweep forgets keys not seen for idle and returns how many were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for _, key := range l.keys.Keys() {
		s, ok := l.keys.Peek(key)
		if !ok {
			continue
		}
		s.mu.Lock()
		stale := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if stale {
			l.keys.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int { return l.keys.Len() }
