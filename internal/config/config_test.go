package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 45*time.Second, cfg.Aggregator.ChainTimeout())
	assert.Equal(t, 5, cfg.BreakerConfig().FailureThreshold)
	assert.Equal(t, time.Minute, cfg.BreakerConfig().OpenTimeout)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
log:
  level: debug
  pretty: true
providers_file: providers.yaml
cache:
  backend: sqlite
  path: /tmp/cache.db
  ttl_sec:
    market_data: 12
    ohlc: 600
breaker:
  failure_threshold: 3
caller_limit:
  per_minute: 30
aggregator:
  primary_url: http://feed.internal:8000
  chain_timeout_sec: 20
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "providers.yaml", cfg.ProvidersFile)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.OpenTimeoutSec, "unset fields keep defaults")
	assert.Equal(t, 30, cfg.CallerLimit.PerMinute)
	assert.Equal(t, "http://feed.internal:8000", cfg.Aggregator.PrimaryURL)
	assert.Equal(t, 20*time.Second, cfg.Aggregator.ChainTimeout())
	assert.Equal(t, map[model.Category]time.Duration{
		model.MarketData: 12 * time.Second,
		model.OHLC:       10 * time.Minute,
	}, cfg.CacheTTLs())
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":{"port":"7000"},"maintenance":{"reload":""}}`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Empty(t, cfg.Maintenance.Reload)
	assert.Equal(t, "@every 5m", cfg.Maintenance.CacheSweep)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))

	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_Malformed(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":`)

	_, err := Load(path)

	require.ErrorContains(t, err, "parse config")
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend":      `{"cache":{"backend":"redis"}}`,
		"ttl category": `{"cache":{"ttl_sec":{"weather":10}}}`,
		"primary url":  `{"aggregator":{"primary_url":"not a url"}}`,
		"negative":     `{"caller_limit":{"per_minute":-1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", body))
			require.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8181")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("PRIMARY_URL", "http://primary:9000")
	t.Setenv("CACHE_BACKEND", "SQLITE")
	t.Setenv("CACHE_PATH", "/var/lib/marketfeed/cache.db")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("CALLER_LIMIT_PER_SECOND", "2.5")
	t.Setenv("CALLER_LIMIT_PER_MINUTE", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))

	require.NoError(t, err)
	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "http://primary:9000", cfg.Aggregator.PrimaryURL)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "/var/lib/marketfeed/cache.db", cfg.Cache.Path)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2.5, cfg.CallerLimit.PerSecond)
	assert.Equal(t, Default().CallerLimit.PerMinute, cfg.CallerLimit.PerMinute)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}
