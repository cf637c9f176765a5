package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketfeed/internal/breaker"
	"marketfeed/internal/logger"
	"marketfeed/internal/model"
	"marketfeed/internal/ratelimit"
)

type Server struct {
	Port               string   `json:"port" yaml:"port" validate:"required"`
	RequestTimeoutSec  int      `json:"request_timeout_sec" yaml:"request_timeout_sec" validate:"gte=0"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" validate:"gte=0"`
	CORSOrigins        []string `json:"cors_origins" yaml:"cors_origins"`
}

type Cache struct {
	Backend    string `json:"backend" yaml:"backend" validate:"oneof=memory sqlite"`
	Path       string `json:"path" yaml:"path" validate:"required_if=Backend sqlite"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries" validate:"gte=0"`
	// TTLSeconds overrides the lifetime per category name.
	TTLSeconds map[string]int `json:"ttl_sec" yaml:"ttl_sec"`
}

type Breaker struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=0"`
	OpenTimeoutSec   int `json:"open_timeout_sec" yaml:"open_timeout_sec" validate:"gte=0"`
}

type Aggregator struct {
	PrimaryURL        string `json:"primary_url" yaml:"primary_url" validate:"omitempty,url"`
	PrimaryTimeoutSec int    `json:"primary_timeout_sec" yaml:"primary_timeout_sec" validate:"gte=0"`
	ChainTimeoutSec   int    `json:"chain_timeout_sec" yaml:"chain_timeout_sec" validate:"gte=0"`
	ShortTTLSec       int    `json:"short_ttl_sec" yaml:"short_ttl_sec" validate:"gte=0"`
	FanOutLimit       int    `json:"fanout_limit" yaml:"fanout_limit" validate:"gte=0"`
}

// Maintenance holds cron schedules; an empty schedule disables the job.
type Maintenance struct {
	CacheSweep     string `json:"cache_sweep" yaml:"cache_sweep"`
	LimiterSweep   string `json:"limiter_sweep" yaml:"limiter_sweep"`
	LimiterIdleSec int    `json:"limiter_idle_sec" yaml:"limiter_idle_sec" validate:"gte=0"`
	Reload         string `json:"reload" yaml:"reload"`
}

type Config struct {
	Server        Server           `json:"server" yaml:"server"`
	Log           logger.Config    `json:"log" yaml:"log"`
	ProvidersFile string           `json:"providers_file" yaml:"providers_file"`
	Cache         Cache            `json:"cache" yaml:"cache"`
	Breaker       Breaker          `json:"breaker" yaml:"breaker"`
	CallerLimit   ratelimit.Limits `json:"caller_limit" yaml:"caller_limit"`
	Aggregator    Aggregator       `json:"aggregator" yaml:"aggregator"`
	Maintenance   Maintenance      `json:"maintenance" yaml:"maintenance"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 60, ShutdownTimeoutSec: 10, CORSOrigins: []string{"*"}},
		Log:    logger.Config{Level: "info"},
		Cache:  Cache{Backend: "memory", Path: "marketfeed-cache.db", MaxEntries: 10000},
		Breaker: Breaker{
			FailureThreshold: 5,
			OpenTimeoutSec:   60,
		},
		CallerLimit: ratelimit.Limits{PerSecond: 5, Burst: 10, PerMinute: 120},
		Aggregator: Aggregator{
			PrimaryTimeoutSec: 5,
			ChainTimeoutSec:   45,
			ShortTTLSec:       10,
			FanOutLimit:       8,
		},
		Maintenance: Maintenance{
			CacheSweep:     "@every 5m",
			LimiterSweep:   "@every 10m",
			LimiterIdleSec: 3600,
			Reload:         "@every 30s",
		},
	}
}

// Load reads a JSON or YAML config from path. If path is empty the first
// existing config.json, config.yaml or config.yml in the working directory
// is used; without any file it returns defaults. A .env file is loaded
// first and environment variables override select fields.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		for _, candidate := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

var validate = validator.New()

// Validate checks field constraints and that every cache TTL names a known
// category.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.Cache.TTLSeconds {
		if _, err := model.ParseCategory(name); err != nil {
			return fmt.Errorf("invalid config: cache ttl: %w", err)
		}
	}
	return nil
}

// BreakerConfig converts the breaker section.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		OpenTimeout:      seconds(c.Breaker.OpenTimeoutSec),
	}
}

// CacheTTLs returns the configured per-category lifetime overrides.
func (c Config) CacheTTLs() map[model.Category]time.Duration {
	out := make(map[model.Category]time.Duration, len(c.Cache.TTLSeconds))
	for name, sec := range c.Cache.TTLSeconds {
		cat, err := model.ParseCategory(name)
		if err != nil || sec <= 0 {
			continue
		}
		out[cat] = seconds(sec)
	}
	return out
}

func (a Aggregator) ChainTimeout() time.Duration   { return seconds(a.ChainTimeoutSec) }
func (a Aggregator) ShortTTL() time.Duration       { return seconds(a.ShortTTLSec) }
func (a Aggregator) PrimaryTimeout() time.Duration { return seconds(a.PrimaryTimeoutSec) }

func (s Server) RequestTimeout() time.Duration  { return seconds(s.RequestTimeoutSec) }
func (s Server) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSec) }

func (m Maintenance) LimiterIdle() time.Duration { return seconds(m.LimiterIdleSec) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitCSV(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	envBool("LOG_PRETTY", &cfg.Log.Pretty)
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	if v := os.Getenv("PROVIDERS_FILE"); v != "" {
		cfg.ProvidersFile = v
	}
	if v := os.Getenv("PRIMARY_URL"); v != "" {
		cfg.Aggregator.PrimaryURL = v
	}
	envInt("CHAIN_TIMEOUT_SEC", &cfg.Aggregator.ChainTimeoutSec)
	envInt("FANOUT_LIMIT", &cfg.Aggregator.FanOutLimit)

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	envInt("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)

	envInt("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envInt("BREAKER_OPEN_TIMEOUT_SEC", &cfg.Breaker.OpenTimeoutSec)

	if v := os.Getenv("CALLER_LIMIT_PER_SECOND"); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil && x >= 0 {
			cfg.CallerLimit.PerSecond = x
		}
	}
	envInt("CALLER_LIMIT_BURST", &cfg.CallerLimit.Burst)
	envInt("CALLER_LIMIT_PER_MINUTE", &cfg.CallerLimit.PerMinute)
	envInt("CALLER_LIMIT_PER_HOUR", &cfg.CallerLimit.PerHour)
}

// envInt overwrites dst with a non-negative integer from the environment.
func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= 0 {
		*dst = x
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
