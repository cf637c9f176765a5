package provider

import (
	"context"
	"strconv"
	"strings"

	"marketfeed/internal/model"
)

// Request selects what a provider should return. Params are free-form
// query parameters; the well-known ones have accessors below.
type Request struct {
	Category model.Category
	Params   map[string]string
}

// Param returns the trimmed parameter or def when unset.
func (r Request) Param(key, def string) string {
	if v := strings.TrimSpace(r.Params[key]); v != "" {
		return v
	}
	return def
}

// IntParam parses an integer parameter, falling back to def.
func (r Request) IntParam(key string, def int) int {
	v, err := strconv.Atoi(r.Param(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Symbols reads "symbols" (comma separated) or "symbol", upper-cased and
// de-duplicated in request order.
func (r Request) Symbols() []string {
	raw := r.Param("symbols", r.Param("symbol", ""))
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Currency is the quote currency, lower-cased, defaulting to usd.
func (r Request) Currency() string {
	return strings.ToLower(r.Param("currency", "usd"))
}

// Provider is a single upstream source of canonical records.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) (model.Batch, error)
}
