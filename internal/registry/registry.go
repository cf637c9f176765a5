// Package registry holds the configured providers and the fallback chain for
// every category. The active set is an immutable snapshot swapped
// atomically, so readers never observe a half-applied reload.
package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

// Factory builds the provider for a config.
type Factory func(cfg ProviderConfig) (provider.Provider, error)

// Entry pairs a config with its live provider.
type Entry struct {
	Config   ProviderConfig
	Provider provider.Provider
}

type snapshot struct {
	configs    []ProviderConfig
	byCategory map[model.Category][]Entry
	loadedAt   time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	factory Factory
	log     zerolog.Logger
	snap    atomic.Pointer[snapshot]

	mu      sync.Mutex
	path    string
	modTime time.Time
}

func New(factory Factory, log zerolog.Logger) *Registry {
	r := &Registry{factory: factory, log: log.With().Str("component", "registry").Logger()}
	r.snap.Store(&snapshot{byCategory: map[model.Category][]Entry{}})
	return r
}

// Load reads the provider file at path. A missing, malformed or invalid
// file falls back to Defaults with a warning; Load only fails if even the
// defaults cannot be applied.
func (r *Registry) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.path = path
	if path == "" {
		r.log.Info().Msg("no providers file configured, using built-in providers")
		return r.replaceLocked(Defaults())
	}

	cfgs, modTime, err := readFile(path)
	if err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("providers file unusable, using built-in providers")
		return r.replaceLocked(Defaults())
	}
	if err := r.replaceLocked(cfgs); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("providers file invalid, using built-in providers")
		return r.replaceLocked(Defaults())
	}
	r.modTime = modTime
	return nil
}

// Reload re-reads the file given to Load when it changed on disk. On any
// error the current providers stay active.
func (r *Registry) Reload() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		return false, nil
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return false, fmt.Errorf("stat providers: %w", err)
	}
	if !info.ModTime().After(r.modTime) {
		return false, nil
	}
	cfgs, modTime, err := readFile(r.path)
	if err != nil {
		return false, err
	}
	if err := r.replaceLocked(cfgs); err != nil {
		return false, err
	}
	r.modTime = modTime
	r.log.Info().Str("path", r.path).Int("providers", len(cfgs)).Msg("providers reloaded")
	return true, nil
}

// Replace validates cfgs and swaps the active set in one step.
func (r *Registry) Replace(cfgs []ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaceLocked(cfgs)
}

func (r *Registry) replaceLocked(cfgs []ProviderConfig) error {
	if err := Validate(cfgs); err != nil {
		return err
	}

	next := &snapshot{
		configs:    slices.Clone(cfgs),
		byCategory: make(map[model.Category][]Entry),
		loadedAt:   time.Now(),
	}
	ordered := slices.Clone(cfgs)
	sortChain(ordered)

	built := 0
	for _, c := range ordered {
		if c.Disabled {
			continue
		}
		p, err := r.factory(c)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", c.Name).Stringer("category", c.Category).Msg("skipping provider")
			continue
		}
		next.byCategory[c.Category] = append(next.byCategory[c.Category], Entry{Config: c, Provider: p})
		built++
	}
	if built == 0 {
		return ErrNoProviders
	}

	r.snap.Store(next)
	return nil
}

// Chain returns the enabled providers for cat in priority order.
func (r *Registry) Chain(cat model.Category) []Entry {
	return slices.Clone(r.snap.Load().byCategory[cat])
}

// All returns every enabled entry across categories.
func (r *Registry) All() []Entry {
	s := r.snap.Load()
	var out []Entry
	for _, cat := range model.Categories {
		out = append(out, s.byCategory[cat]...)
	}
	return out
}

// Lookup returns the entry for name serving cat.
func (r *Registry) Lookup(name string, cat model.Category) (Entry, bool) {
	for _, e := range r.snap.Load().byCategory[cat] {
		if e.Config.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names lists the distinct enabled provider names, sorted.
func (r *Registry) Names() []string {
	seen := map[string]struct{}{}
	for _, e := range r.All() {
		seen[e.Config.Name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Configs returns the configuration currently applied.
func (r *Registry) Configs() []ProviderConfig {
	return slices.Clone(r.snap.Load().configs)
}

func (r *Registry) LoadedAt() time.Time {
	return r.snap.Load().loadedAt
}

func readFile(path string) ([]ProviderConfig, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("providers file %s does not exist", path)
		}
		return nil, time.Time{}, fmt.Errorf("stat providers: %w", err)
	}
	cfgs, err := LoadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return cfgs, info.ModTime(), nil
}
