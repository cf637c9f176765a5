package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/breaker"
	"marketfeed/internal/ratelimit"
)

// ExpiringCache is satisfied by *cache.Manager.
type ExpiringCache interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// CacheSweep removes expired cache entries.
type CacheSweep struct {
	Cache ExpiringCache
	Log   zerolog.Logger
}

func (CacheSweep) Name() string { return "cache_sweep" }

func (j CacheSweep) Run(ctx context.Context) error {
	n, err := j.Cache.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Log.Info().Int("removed", n).Msg("expired cache entries removed")
	}
	return nil
}

// LimiterSweep forgets rate limit keys idle for longer than Idle.
type LimiterSweep struct {
	Limiter *ratelimit.Limiter
	Idle    time.Duration
	Log     zerolog.Logger
}

func (LimiterSweep) Name() string { return "limiter_sweep" }

func (j LimiterSweep) Run(context.Context) error {
	if j.Limiter == nil {
		return nil
	}
	if n := j.Limiter.Sweep(j.Idle); n > 0 {
		j.Log.Debug().Int("removed", n).Int("tracked", j.Limiter.Len()).Msg("idle limiter keys removed")
	}
	return nil
}

// Reloader is satisfied by *registry.Registry.
type Reloader interface {
	Reload() (bool, error)
	Names() []string
}

// ProviderReload re-reads the provider file when it changed and drops the
// breakers of providers that are gone. Keep lists names that are not part
// of the registry, such as the primary source.
type ProviderReload struct {
	Registry Reloader
	Breakers *breaker.Set
	Keep     []string
	Log      zerolog.Logger
}

func (ProviderReload) Name() string { return "provider_reload" }

func (j ProviderReload) Run(context.Context) error {
	changed, err := j.Registry.Reload()
	if err != nil {
		return err
	}
	if !changed || j.Breakers == nil {
		return nil
	}
	keep := append(j.Registry.Names(), j.Keep...)
	if n := j.Breakers.Prune(keep); n > 0 {
		j.Log.Info().Int("pruned", n).Msg("breakers of removed providers dropped")
	}
	return nil
}
