// Package cache stores normalized responses with a TTL behind a pluggable
// backend and coalesces concurrent misses for the same key.
package cache

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrNotFound is returned by a Backend for an absent key.
var ErrNotFound = errors.New("cache: entry not found")

// ErrBackendUnavailable marks backend failures that make the manager fall
// back to uncached fetches.
var ErrBackendUnavailable = errors.New("cache: backend unavailable")

// Entry is one cached value. It is valid strictly while now < ExpiresAt.
type Entry struct {
	Key       string
	Value     []byte
	Source    string
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// TTL is the remaining lifetime at now, never negative.
func (e Entry) TTL(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Backend stores entries. Implementations evict the single oldest-created
// entry when inserting over capacity and report how many they evicted.
//
//go:generate mockgen -package=cache_test -destination=mock_backend_test.go -source=cache.go Backend
type Backend interface {
	// Get returns the entry and counts a hit, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, e Entry) (evicted int, err error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Key builds a deterministic key from a prefix and parameters. Parameters
// are sorted so that logically equal requests share an entry.
func Key(prefix string, params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	if len(v) == 0 {
		return prefix
	}
	return prefix + "?" + v.Encode()
}
