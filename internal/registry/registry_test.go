package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
	"marketfeed/internal/registry"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Fetch(context.Context, provider.Request) (model.Batch, error) {
	return model.Batch{}, nil
}

func stubFactory(cfg registry.ProviderConfig) (provider.Provider, error) {
	if cfg.AdapterKind() == "broken" {
		return nil, errors.New("unknown adapter")
	}
	return stubProvider{name: cfg.Name}, nil
}

func newRegistry() *registry.Registry {
	return registry.New(stubFactory, zerolog.Nop())
}

const providersYAML = `
providers:
  - name: slowgecko
    base_url: https://slow.example.com
    category: market_data
    priority: 5
  - name: fastcap
    base_url: https://fast.example.com
    category: market_data
    priority: 1
    rate_limit:
      per_minute: 30
  - name: fastcap
    base_url: https://fast.example.com
    category: ohlc
    priority: 1
  - name: tieb
    base_url: https://tie.example.com
    category: market_data
    priority: 5
  - name: off
    base_url: https://off.example.com
    category: market_data
    disabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ChainOrderedByPriority(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	require.NoError(t, r.Load(writeFile(t, "providers.yaml", providersYAML)))

	chain := r.Chain(model.MarketData)
	names := make([]string, 0, len(chain))
	for _, e := range chain {
		names = append(names, e.Config.Name)
	}
	assert.Equal(t, []string{"fastcap", "slowgecko", "tieb"}, names)
	assert.Equal(t, 30, chain[0].Config.RateLimit.PerMinute)

	assert.Len(t, r.Chain(model.OHLC), 1)
	assert.Empty(t, r.Chain(model.Gas))
	assert.Equal(t, []string{"fastcap", "slowgecko", "tieb"}, r.Names())

	_, ok := r.Lookup("off", model.MarketData)
	assert.False(t, ok, "disabled providers are not in the chain")
}

func TestLoad_JSONList(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	path := writeFile(t, "providers.json", `[{"name":"a","base_url":"https://a.example.com","category":"gas","priority":1}]`)

	require.NoError(t, r.Load(path))

	e, ok := r.Lookup("a", model.Gas)
	require.True(t, ok)
	assert.Equal(t, "a", e.Provider.Name())
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing":   filepath.Join(t.TempDir(), "nope.yaml"),
		"malformed": writeFile(t, "bad.yaml", "providers: [::"),
		"invalid":   writeFile(t, "invalid.yaml", "providers:\n  - name: x\n    base_url: not-a-url\n    category: weather\n"),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := newRegistry()
			require.NoError(t, r.Load(path))

			assert.NotEmpty(t, r.Chain(model.MarketData))
			assert.NotEmpty(t, r.Chain(model.Gas))
			assert.Len(t, r.Configs(), len(registry.Defaults()))
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, registry.Validate(registry.Defaults()))

	covered := map[model.Category]bool{}
	for _, c := range registry.Defaults() {
		covered[c.Category] = true
	}
	for _, cat := range model.Categories {
		assert.Truef(t, covered[cat], "no default provider for %s", cat)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := registry.ProviderConfig{Name: "a", BaseURL: "https://a.example.com", Category: model.News}

	require.NoError(t, registry.Validate([]registry.ProviderConfig{base}))
	require.ErrorIs(t, registry.Validate(nil), registry.ErrNoProviders)

	bad := base
	bad.Method = "DELETE"
	require.Error(t, registry.Validate([]registry.ProviderConfig{bad}))

	bad = base
	bad.RateLimit.PerMinute = -1
	require.Error(t, registry.Validate([]registry.ProviderConfig{bad}))

	require.Error(t, registry.Validate([]registry.ProviderConfig{base, base}), "duplicate name/category")

	other := base
	other.Category = model.Sentiment
	require.NoError(t, registry.Validate([]registry.ProviderConfig{base, other}))
}

func TestReplace_InvalidKeepsCurrent(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	require.NoError(t, r.Replace([]registry.ProviderConfig{{Name: "a", BaseURL: "https://a.example.com", Category: model.Gas}}))

	err := r.Replace([]registry.ProviderConfig{{Name: "", BaseURL: "https://b.example.com", Category: model.Gas}})
	require.Error(t, err)

	_, ok := r.Lookup("a", model.Gas)
	assert.True(t, ok)
}

func TestReplace_SkipsUnbuildableProviders(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	require.NoError(t, r.Replace([]registry.ProviderConfig{
		{Name: "good", BaseURL: "https://a.example.com", Category: model.Gas},
		{Name: "bad", Kind: "broken", BaseURL: "https://b.example.com", Category: model.Gas},
	}))
	assert.Len(t, r.Chain(model.Gas), 1)

	err := r.Replace([]registry.ProviderConfig{{Name: "bad", Kind: "broken", BaseURL: "https://b.example.com", Category: model.Gas}})
	require.ErrorIs(t, err, registry.ErrNoProviders)
}

func TestReload_PicksUpChanges(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "providers.yaml", providersYAML)
	r := newRegistry()
	require.NoError(t, r.Load(path))

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "unchanged file")

	next := "providers:\n  - name: only\n    base_url: https://only.example.com\n    category: market_data\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	changed, err = r.Reload()
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, []string{"only"}, r.Names())

	// A broken edit keeps the current providers.
	require.NoError(t, os.WriteFile(path, []byte("providers: [::"), 0o600))
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	changed, err = r.Reload()
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"only"}, r.Names())
}

func TestChain_ConcurrentReadsDuringReplace(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	one := []registry.ProviderConfig{
		{Name: "a", BaseURL: "https://a.example.com", Category: model.MarketData, Priority: 1},
		{Name: "b", BaseURL: "https://b.example.com", Category: model.MarketData, Priority: 2},
	}
	two := []registry.ProviderConfig{
		{Name: "c", BaseURL: "https://c.example.com", Category: model.MarketData, Priority: 1},
		{Name: "d", BaseURL: "https://d.example.com", Category: model.MarketData, Priority: 2},
	}
	require.NoError(t, r.Replace(one))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			cfgs := one
			if i%2 == 1 {
				cfgs = two
			}
			_ = r.Replace(cfgs)
		}
	}()

	for range 1000 {
		chain := r.Chain(model.MarketData)
		require.Len(t, chain, 2)
		first, second := chain[0].Config.Name, chain[1].Config.Name
		ok := (first == "a" && second == "b") || (first == "c" && second == "d")
		require.Truef(t, ok, "mixed snapshot %s,%s", first, second)
	}
	close(stop)
	wg.Wait()
}

func TestResolveCredential(t *testing.T) {
	t.Setenv("MF_TEST_KEY", "from-env")
	t.Setenv("MF_TEST_OVERRIDE", "override")

	c := registry.ProviderConfig{Credential: "Apikey ${MF_TEST_KEY}"}
	assert.Equal(t, "Apikey from-env", c.ResolveCredential())

	c.CredentialEnv = "MF_TEST_OVERRIDE"
	assert.Equal(t, "override", c.ResolveCredential())

	c.CredentialEnv = "MF_TEST_UNSET_VAR"
	assert.Equal(t, "Apikey from-env", c.ResolveCredential())
}

func TestProviderConfigHelpers(t *testing.T) {
	t.Parallel()

	c := registry.ProviderConfig{Name: "CoinGecko", TimeoutSec: 7, Capabilities: []string{"Batch"}}
	assert.Equal(t, "coingecko", c.AdapterKind())
	assert.Equal(t, 7*time.Second, c.Timeout())
	assert.True(t, c.HasCapability("batch"))

	c.Kind = "internalfeed"
	assert.Equal(t, "internalfeed", c.AdapterKind())
}
