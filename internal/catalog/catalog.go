// Package catalog turns provider configurations into live providers. It is
// the registry.Factory used by the binaries.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/alternativeme"
	"marketfeed/internal/provider/binance"
	"marketfeed/internal/provider/coincap"
	"marketfeed/internal/provider/coingecko"
	"marketfeed/internal/provider/cryptocompare"
	"marketfeed/internal/provider/cryptopanic"
	"marketfeed/internal/provider/etherscan"
	"marketfeed/internal/provider/internalfeed"
	"marketfeed/internal/ratelimit"
	"marketfeed/internal/registry"
)

// KindBinance is served by the SDK-backed provider rather than an adapter.
const KindBinance = "binance"

var adapters = map[string]provider.Adapter{
	"alternativeme": alternativeme.Adapter{},
	"coincap":       coincap.Adapter{},
	"coingecko":     coingecko.Adapter{},
	"cryptocompare": cryptocompare.Adapter{},
	"cryptopanic":   cryptopanic.Adapter{},
	"etherscan":     etherscan.Adapter{},
	"internalfeed":  internalfeed.Adapter{},
}

// Kinds lists the adapter kinds a config may name.
func Kinds() []string {
	out := []string{KindBinance}
	for k := range adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Catalog builds providers sharing one HTTP client. Providers with the same
// name share a rate limiter, since they draw on the same upstream quota.
type Catalog struct {
	client *httpx.Client
	log    zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*ratelimit.Limiter
}

func New(client *httpx.Client, log zerolog.Logger) *Catalog {
	if client == nil {
		client = httpx.New(0)
	}
	return &Catalog{
		client:   client,
		log:      log.With().Str("component", "catalog").Logger(),
		limiters: make(map[string]*ratelimit.Limiter),
	}
}

// Build implements registry.Factory.
func (c *Catalog) Build(cfg registry.ProviderConfig) (provider.Provider, error) {
	p, err := c.build(cfg)
	if err != nil {
		return nil, err
	}
	return ratelimit.GuardWith(p, c.limiter(cfg)), nil
}

// Unguarded builds the provider without its rate limiter, for diagnostics.
func (c *Catalog) Unguarded(cfg registry.ProviderConfig) (provider.Provider, error) {
	return c.build(cfg)
}

func (c *Catalog) build(cfg registry.ProviderConfig) (provider.Provider, error) {
	kind := cfg.AdapterKind()
	credential := cfg.ResolveCredential()
	if cfg.Credential != "" && credential == "" {
		c.log.Warn().Str("provider", cfg.Name).Msg("credential resolved to empty, calling without it")
	}

	if kind == KindBinance {
		return binance.New(binance.Config{
			Name:       cfg.Name,
			BaseURL:    cfg.BaseURL,
			APIKey:     credential,
			Timeout:    cfg.Timeout(),
			HTTPClient: c.client.HTTP,
		})
	}

	adapter, ok := adapters[kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.Name, kind)
	}
	return provider.NewUpstream(provider.Config{
		Name:       cfg.Name,
		BaseURL:    cfg.BaseURL,
		Method:     cfg.Method,
		Credential: credential,
		HeaderKey:  cfg.HeaderKey,
		QueryKey:   cfg.QueryKey,
		Headers:    cfg.Headers,
		Timeout:    cfg.Timeout(),
	}, adapter, provider.WithHTTPClient(c.client))
}

// limiter returns the shared limiter for cfg.Name, replacing it when the
// configured limits changed.
func (c *Catalog) limiter(cfg registry.ProviderConfig) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[cfg.Name]; ok && l.Limits() == cfg.RateLimit {
		return l
	}
	l := ratelimit.New(cfg.RateLimit, 1)
	c.limiters[cfg.Name] = l
	return l
}
