// Package breaker implements a per-provider circuit breaker with a single
// probe in the half-open state.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State captures circuit breaker states.
type State int

const (
	// Closed indicates normal operation.
	Closed State = iota
	// Open indicates the breaker is rejecting calls.
	Open
	// HalfOpen indicates one trial call is permitted.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrOpen is matched by every OpenError.
var ErrOpen = errors.New("circuit open")

// OpenError is returned for a provider skipped because its circuit is open.
type OpenError struct {
	Provider string
	RetryAt  time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Provider, e.RetryAt.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// Config controls thresholds for state transitions.
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// DefaultConfig opens after 5 consecutive failures and probes after 60s.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenTimeout: 60 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	return c
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnChange registers a callback invoked after each state transition.
// It runs with the breaker lock released.
func WithOnChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker tracks the health of a single provider. It performs no I/O.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	// probeAt is the lease start of the in-flight half-open probe.
	probeAt time.Time
}

// New returns a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// CanAttempt reports whether a call may be made now. An open breaker whose
// cooldown has strictly elapsed moves to half-open and hands out the probe.
// While half-open only one caller holds the probe; a lease older than the
// open timeout is reclaimed.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	now := b.now()
	from := b.state
	allowed := false
	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if now.Sub(b.lastFailure) > b.cfg.OpenTimeout {
			b.state = HalfOpen
			b.probeAt = now
			allowed = true
		}
	case HalfOpen:
		if b.probeAt.IsZero() || now.Sub(b.probeAt) > b.cfg.OpenTimeout {
			b.probeAt = now
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return allowed
}

// RecordSuccess resets the failure count and closes the circuit. A success
// reported while open belongs to a call admitted before the trip and is
// ignored; only the half-open probe can close an open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	if from == Open {
		b.mu.Unlock()
		return
	}
	b.failures = 0
	b.state = Closed
	b.probeAt = time.Time{}
	b.mu.Unlock()
	b.notify(from, Closed)
}

// RecordFailure counts a failure. Reaching the threshold, or failing the
// half-open probe, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.lastFailure = b.now()
	b.probeAt = time.Time{}
	if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = Open
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Release frees the half-open probe without recording an outcome. Used when
// the attempt was abandoned before the provider answered.
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == HalfOpen {
		b.probeAt = time.Time{}
	}
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Provider      string    `json:"provider"`
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	RetryAt       time.Time `json:"retry_at,omitzero"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Provider: b.name, State: b.state, Failures: b.failures, LastFailureAt: b.lastFailure}
	if b.state == Open {
		s.RetryAt = b.lastFailure.Add(b.cfg.OpenTimeout)
	}
	return s
}

// Err returns the OpenError describing a skipped attempt.
func (b *Breaker) Err() error {
	s := b.Snapshot()
	return &OpenError{Provider: b.name, RetryAt: s.RetryAt}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
