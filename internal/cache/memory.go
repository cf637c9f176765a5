package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a memory backend created with a non-positive size.
const DefaultMaxEntries = 10000

// MemoryBackend keeps entries in process. Reads never change eviction
// order, so the LRU list is ordered by creation (or last overwrite).
type MemoryBackend struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
}

func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &MemoryBackend{entries: entries}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries.Peek(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.HitCount++
	return *e, nil
}

func (m *MemoryBackend) Set(_ context.Context, e Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Remove first so an overwrite becomes the newest entry.
	m.entries.Remove(e.Key)
	stored := e
	stored.HitCount = 0
	if m.entries.Add(e.Key, &stored) {
		return 1, nil
	}
	return 0, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Remove(key)
	return nil
}

func (m *MemoryBackend) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, key := range m.entries.Keys() {
		if e, ok := m.entries.Peek(key); ok && !e.Valid(now) {
			m.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Len(context.Context) (int, error) {
	return m.entries.Len(), nil
}

func (m *MemoryBackend) Close() error {
	m.entries.Purge()
	return nil
}
