package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Fill is what a GetOrSet fetch produces. A non-positive TTL skips storing.
type Fill[V any] struct {
	Value  V
	Source string
	TTL    time.Duration
}

// Lookup is the result of a cache read.
type Lookup[V any] struct {
	Value     V
	Source    string
	Hit       bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats are cumulative counters since the manager was created.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Shared    int64 `json:"shared"`
	Degraded  int64 `json:"degraded"`
	Entries   int   `json:"entries"`
}

// Manager is a typed cache over a Backend. Values are msgpack encoded.
type Manager[V any] struct {
	backend Backend
	now     func() time.Time
	log     zerolog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight

	hits, misses, evictions, expired, shared, degraded atomic.Int64
}

// flight is the context shared by every caller waiting on one key. It is
// canceled once the last waiter gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

func NewManager[V any](backend Backend, log zerolog.Logger, opts ...Option) *Manager[V] {
	o := managerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[V]{
		backend: backend,
		now:     o.now,
		log:     log.With().Str("component", "cache").Logger(),
		flights: make(map[string]*flight),
	}
}

// Get returns the live entry for key. An expired entry is deleted and
// reported as a miss. Backend failures are returned as errors.
func (m *Manager[V]) Get(ctx context.Context, key string) (Lookup[V], error) {
	look, err := m.lookup(ctx, key)
	if err != nil {
		return look, err
	}
	if look.Hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return look, nil
}

func (m *Manager[V]) lookup(ctx context.Context, key string) (Lookup[V], error) {
	var out Lookup[V]
	e, err := m.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if !e.Valid(m.now()) {
		m.expired.Add(1)
		if err := m.backend.Delete(ctx, key); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("deleting expired entry")
		}
		return out, nil
	}
	if err := msgpack.Unmarshal(e.Value, &out.Value); err != nil {
		// Treat undecodable entries as absent.
		m.log.Warn().Err(err).Str("key", key).Msg("decoding cached value")
		_ = m.backend.Delete(ctx, key)
		return Lookup[V]{}, nil
	}
	out.Source = e.Source
	out.Hit = true
	out.CreatedAt = e.CreatedAt
	out.ExpiresAt = e.ExpiresAt
	return out, nil
}

// Set stores v under key for ttl.
func (m *Manager[V]) Set(ctx context.Context, key string, v V, ttl time.Duration, source string) error {
	if ttl <= 0 {
		return nil
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", key, err)
	}
	now := m.now()
	evicted, err := m.backend.Set(ctx, Entry{
		Key:       key,
		Value:     b,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return err
	}
	if evicted > 0 {
		m.evictions.Add(int64(evicted))
	}
	return nil
}

// GetOrSet returns the cached value or runs fetch once per key no matter
// how many callers miss concurrently. Each caller stops waiting when its own
// context ends; the fetch itself is canceled only when every waiter has
// left. Errors are never cached. If the backend fails, fetch runs directly.
func (m *Manager[V]) GetOrSet(ctx context.Context, key string, fetch func(context.Context) (Fill[V], error)) (Lookup[V], error) {
	look, err := m.Get(ctx, key)
	if err != nil {
		return m.degrade(ctx, key, err, fetch)
	}
	if look.Hit {
		return look, nil
	}

	f := m.join(key, ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		// A previous flight may have filled the key since our miss.
		if look, err := m.lookup(f.ctx, key); err == nil && look.Hit {
			return look, nil
		}
		fill, err := fetch(f.ctx)
		if err != nil {
			return Lookup[V]{}, err
		}
		now := m.now()
		out := Lookup[V]{Value: fill.Value, Source: fill.Source, CreatedAt: now, ExpiresAt: now.Add(fill.TTL)}
		if serr := m.Set(f.ctx, key, fill.Value, fill.TTL, fill.Source); serr != nil {
			m.degraded.Add(1)
			m.log.Warn().Err(serr).Str("key", key).Msg("cache write failed, serving uncached")
		}
		return out, nil
	})

	select {
	case res := <-ch:
		m.leave(key, f)
		if res.Shared {
			m.shared.Add(1)
		}
		if res.Err != nil {
			return Lookup[V]{}, res.Err
		}
		return res.Val.(Lookup[V]), nil
	case <-ctx.Done():
		m.leave(key, f)
		return Lookup[V]{}, ctx.Err()
	}
}

func (m *Manager[V]) degrade(ctx context.Context, key string, cause error, fetch func(context.Context) (Fill[V], error)) (Lookup[V], error) {
	m.degraded.Add(1)
	m.log.Warn().Err(cause).Str("key", key).Msg("cache backend unavailable, fetching directly")
	fill, err := fetch(ctx)
	if err != nil {
		return Lookup[V]{}, err
	}
	return Lookup[V]{Value: fill.Value, Source: fill.Source}, nil
}

func (m *Manager[V]) join(key string, ctx context.Context) *flight {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		m.flights[key] = f
	}
	f.waiters++
	return f
}

func (m *Manager[V]) leave(key string, f *flight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[key] == f {
		delete(m.flights, key)
		// Late callers must start a fresh fetch instead of joining a canceled one.
		m.group.Forget(key)
	}
}

// Delete removes key.
func (m *Manager[V]) Delete(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, key)
}

// DeleteExpired sweeps expired entries from the backend.
func (m *Manager[V]) DeleteExpired(ctx context.Context) (int, error) {
	n, err := m.backend.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	m.expired.Add(int64(n))
	return n, nil
}

func (m *Manager[V]) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Expired:   m.expired.Load(),
		Shared:    m.shared.Load(),
		Degraded:  m.degraded.Load(),
	}
	if n, err := m.backend.Len(ctx); err == nil {
		s.Entries = n
	}
	return s
}

func (m *Manager[V]) Close() error {
	return m.backend.Close()
}
