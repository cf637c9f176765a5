// Package app wires configuration into a running aggregator. Both binaries
// build their dependencies through it.
package app

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/breaker"
	"marketfeed/internal/cache"
	"marketfeed/internal/catalog"
	"marketfeed/internal/config"
	"marketfeed/internal/httpx"
	"marketfeed/internal/maintenance"
	"marketfeed/internal/ratelimit"
	"marketfeed/internal/registry"
)

// PrimaryName is the breaker and log name of the primary source.
const PrimaryName = "internal"

type App struct {
	Config     config.Config
	Log        zerolog.Logger
	Catalog    *catalog.Catalog
	Registry   *registry.Registry
	Aggregator *aggregator.Aggregator
	Cache      *cache.Manager[aggregator.Response]
}

// New loads the provider registry and builds the aggregator with its cache,
// breakers and caller limiter.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	client := httpx.New(0)
	builder := catalog.New(client, log)

	reg := registry.New(builder.Build, log)
	if err := reg.Load(cfg.ProvidersFile); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	backend, err := newBackend(cfg.Cache)
	if err != nil {
		return nil, err
	}
	mgr := cache.NewManager[aggregator.Response](backend, log)

	opts := []aggregator.Option{
		aggregator.WithLogger(log),
		aggregator.WithCache(mgr),
		aggregator.WithBreakers(breaker.NewSet(cfg.BreakerConfig(), log)),
		aggregator.WithChainTimeout(cfg.Aggregator.ChainTimeout()),
		aggregator.WithShortTTL(cfg.Aggregator.ShortTTL()),
		aggregator.WithFanOutLimit(cfg.Aggregator.FanOutLimit),
	}
	for cat, ttl := range cfg.CacheTTLs() {
		opts = append(opts, aggregator.WithTTL(cat, ttl))
	}
	if cfg.CallerLimit.Enabled() {
		opts = append(opts, aggregator.WithCallerLimiter(ratelimit.New(cfg.CallerLimit, ratelimit.DefaultMaxKeys)))
	}
	if cfg.Aggregator.PrimaryURL != "" {
		primary, err := builder.Build(registry.ProviderConfig{
			Name:       PrimaryName,
			Kind:       "internalfeed",
			BaseURL:    cfg.Aggregator.PrimaryURL,
			Method:     http.MethodPost,
			TimeoutSec: cfg.Aggregator.PrimaryTimeoutSec,
		})
		if err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("primary source: %w", err)
		}
		opts = append(opts, aggregator.WithPrimary(primary))
	}

	return &App{
		Config:     cfg,
		Log:        log,
		Catalog:    builder,
		Registry:   reg,
		Aggregator: aggregator.New(reg, opts...),
		Cache:      mgr,
	}, nil
}

func newBackend(cfg config.Cache) (cache.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		b, err := cache.NewSQLiteBackend(cfg.Path, cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		return b, nil
	default:
		return cache.NewMemoryBackend(cfg.MaxEntries), nil
	}
}

// Scheduler returns a scheduler with the maintenance jobs registered.
func (a *App) Scheduler() (*maintenance.Scheduler, error) {
	s := maintenance.New(a.Log)
	m := a.Config.Maintenance
	var keep []string
	if a.Config.Aggregator.PrimaryURL != "" {
		keep = append(keep, PrimaryName)
	}
	jobs := []struct {
		schedule string
		job      maintenance.Job
	}{
		{m.CacheSweep, maintenance.CacheSweep{Cache: a.Cache, Log: a.Log}},
		{m.LimiterSweep, maintenance.LimiterSweep{Limiter: a.Aggregator.CallerLimiter(), Idle: m.LimiterIdle(), Log: a.Log}},
		{m.Reload, maintenance.ProviderReload{Registry: a.Registry, Breakers: a.Aggregator.Breakers(), Keep: keep, Log: a.Log}},
	}
	for _, j := range jobs {
		if err := s.AddJob(j.schedule, j.job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.job.Name(), err)
		}
	}
	return s, nil
}

func (a *App) Close() error {
	return a.Cache.Close()
}
