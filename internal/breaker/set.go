package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Set owns one breaker per provider name. Breakers are created on first use.
type Set struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet returns an empty set; every breaker it creates shares cfg.
func NewSet(cfg Config, log zerolog.Logger, opts ...SetOption) *Set {
	s := &Set{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      log.With().Str("component", "breaker").Logger(),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithSetClock replaces time.Now for every breaker in the set.
func WithSetClock(now func() time.Time) SetOption {
	return func(s *Set) { s.now = now }
}

// Get returns the breaker for name, creating it closed if needed.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := New(name, s.cfg, WithClock(s.now), WithOnChange(s.logChange))
	s.breakers[name] = b
	return b
}

// Prune drops breakers whose provider is not in keep.
func (s *Set) Prune(keep []string) int {
	want := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		want[k] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name := range s.breakers {
		if _, ok := want[name]; !ok {
			delete(s.breakers, name)
			removed++
		}
	}
	return removed
}

// Snapshots returns the state of every known breaker sorted by provider.
func (s *Set) Snapshots() []Snapshot {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (s *Set) logChange(name string, from, to State) {
	ev := s.log.Info()
	if to == Open {
		ev = s.log.Warn()
	}
	ev.Str("provider", name).Stringer("from", from).Stringer("to", to).Msg("circuit state changed")
}
