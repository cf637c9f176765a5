package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"marketfeed/internal/model"
	"marketfeed/internal/ratelimit"
)

// ProviderConfig describes one upstream and how to reach it. The same name
// may appear once per category; the circuit breaker is shared by name.
type ProviderConfig struct {
	Name          string            `yaml:"name" json:"name" validate:"required"`
	Kind          string            `yaml:"kind,omitempty" json:"kind,omitempty"`
	BaseURL       string            `yaml:"base_url" json:"base_url" validate:"required,url"`
	Category      model.Category    `yaml:"category" json:"category" validate:"required,category"`
	Credential    string            `yaml:"credential,omitempty" json:"credential,omitempty"`
	CredentialEnv string            `yaml:"credential_env,omitempty" json:"credential_env,omitempty"`
	HeaderKey     string            `yaml:"header_key,omitempty" json:"header_key,omitempty"`
	QueryKey      string            `yaml:"query_key,omitempty" json:"query_key,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	RateLimit     ratelimit.Limits  `yaml:"rate_limit" json:"rate_limit"`
	Priority      int               `yaml:"priority" json:"priority" validate:"gte=0"`
	Capabilities  []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Method        string            `yaml:"method,omitempty" json:"method,omitempty" validate:"omitempty,oneof=GET POST get post"`
	TimeoutSec    int               `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty" validate:"gte=0,lte=300"`
	Disabled      bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// AdapterKind is the adapter used to talk to the provider.
func (c ProviderConfig) AdapterKind() string {
	if c.Kind != "" {
		return strings.ToLower(c.Kind)
	}
	return strings.ToLower(c.Name)
}

// Timeout is the per-call timeout; zero means the transport default.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ResolveCredential returns the credential with ${VAR} references expanded.
// A set CredentialEnv variable takes precedence.
func (c ProviderConfig) ResolveCredential() string {
	if c.CredentialEnv != "" {
		if v := os.Getenv(c.CredentialEnv); v != "" {
			return v
		}
	}
	return os.ExpandEnv(c.Credential)
}

// HasCapability reports whether the config lists capability.
func (c ProviderConfig) HasCapability(capability string) bool {
	for _, v := range c.Capabilities {
		if strings.EqualFold(v, capability) {
			return true
		}
	}
	return false
}

type file struct {
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
}

// Parse decodes a provider list in YAML or JSON. The document may be a bare
// list or an object with a "providers" key.
func Parse(data []byte, format string) ([]ProviderConfig, error) {
	var (
		f    file
		list []ProviderConfig
	)
	switch strings.ToLower(format) {
	case "json":
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, fmt.Errorf("parse providers: %w", err)
			}
			return list, nil
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse providers: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &f); err != nil {
			if lerr := yaml.Unmarshal(data, &list); lerr == nil {
				return list, nil
			}
			return nil, fmt.Errorf("parse providers: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse providers: unsupported format %q", format)
	}
	return f.Providers, nil
}

// LoadFile reads and parses path, picking the format from its extension.
func LoadFile(path string) ([]ProviderConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return Parse(b, format)
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return model.Category(fl.Field().String()).Valid()
	})
	return v
}()

// ErrNoProviders is returned when a configuration enables nothing.
var ErrNoProviders = errors.New("no providers configured")

// Validate checks every config and that each (name, category) pair is unique.
func Validate(cfgs []ProviderConfig) error {
	if len(cfgs) == 0 {
		return ErrNoProviders
	}
	var errs []error
	seen := make(map[string]struct{}, len(cfgs))
	for i, c := range cfgs {
		if err := validate.Struct(c); err != nil {
			errs = append(errs, fmt.Errorf("provider[%d] %q: %w", i, c.Name, err))
			continue
		}
		key := c.Name + "/" + string(c.Category)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("provider[%d]: duplicate %s", i, key))
		}
		seen[key] = struct{}{}
	}
	return errors.Join(errs...)
}

// sortChain orders by priority (lower first), then name.
func sortChain(cfgs []ProviderConfig) {
	sort.SliceStable(cfgs, func(i, j int) bool {
		if cfgs[i].Priority != cfgs[j].Priority {
			return cfgs[i].Priority < cfgs[j].Priority
		}
		return cfgs[i].Name < cfgs[j].Name
	})
}
