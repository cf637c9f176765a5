package aggregator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketfeed/internal/model"
)

// ErrEmptyResult marks a provider that answered without usable records.
var ErrEmptyResult = errors.New("provider returned no data")

// ErrNoPrimary is returned for primary-only requests when no primary source
// is configured.
var ErrNoPrimary = errors.New("no primary source configured")

// Attempt is the outcome of trying one provider.
type Attempt struct {
	Provider string
	// Skipped is set when no network call was made: open circuit, provider
	// rate limit or chain deadline.
	Skipped bool
	Err     error
	Latency time.Duration
}

func (a Attempt) MarshalJSON() ([]byte, error) {
	out := struct {
		Provider  string `json:"provider"`
		Skipped   bool   `json:"skipped,omitempty"`
		Error     string `json:"error,omitempty"`
		LatencyMS int64  `json:"latency_ms"`
	}{Provider: a.Provider, Skipped: a.Skipped, LatencyMS: a.Latency.Milliseconds()}
	if a.Err != nil {
		out.Error = a.Err.Error()
	}
	return json.Marshal(out)
}

// AllProvidersFailedError is returned when every provider of a category
// failed, returned nothing or was skipped.
type AllProvidersFailedError struct {
	Category model.Category
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("all providers failed for %s: no providers configured", e.Category)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all providers failed for %s: %s", e.Category, strings.Join(parts, "; "))
}

// Attempted lists the provider names in the order they were tried.
func (e *AllProvidersFailedError) Attempted() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Provider)
	}
	return out
}

// LastError returns the error recorded for provider.
func (e *AllProvidersFailedError) LastError(provider string) error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Provider == provider {
			return e.Attempts[i].Err
		}
	}
	return nil
}

// PrimaryUnavailableError is returned for primary-only requests the primary
// source could not serve.
type PrimaryUnavailableError struct {
	Category model.Category
	Err      error
}

func (e *PrimaryUnavailableError) Error() string {
	return fmt.Sprintf("primary source unavailable for %s: %v", e.Category, e.Err)
}

func (e *PrimaryUnavailableError) Unwrap() error { return e.Err }
