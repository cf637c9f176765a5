package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketfeed/internal/normalize"
)

// ErrUnsupported is returned when a provider is asked for a category it
// cannot serve.
var ErrUnsupported = errors.New("category not supported")

// HTTPError is a non-2xx answer from an upstream.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("%s: unauthorized (status %d)", e.Provider, e.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s: rate limited", e.Provider)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status code %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status code %d", e.Provider, e.StatusCode)
}

// Retryable reports whether the status reflects provider health rather than
// a malformed request.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// TimeoutError is returned when a provider exceeds its own timeout.
type TimeoutError struct {
	Provider string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Provider, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// APIError is a failure reported inside a successful HTTP response, as some
// APIs answer 200 with an error document.
type APIError struct {
	Provider string
	Message  string
	// Temporary marks throttling or upstream trouble, as opposed to a
	// rejected request.
	Temporary bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error: %s", e.Provider, e.Message)
}

// NewAPIError builds an APIError, treating rate limit messages as temporary.
func NewAPIError(provider, message string) *APIError {
	lower := strings.ToLower(message)
	return &APIError{
		Provider:  provider,
		Message:   message,
		Temporary: strings.Contains(lower, "rate limit") || strings.Contains(lower, "try again"),
	}
}

// Retryable reports whether err should count against the provider's
// circuit. Client-side errors (4xx other than 408/429), unsupported
// categories and caller cancellation do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Retryable()
	}
	var aerr *APIError
	if errors.As(err, &aerr) {
		return aerr.Temporary
	}
	var terr *TimeoutError
	if errors.As(err, &terr) {
		return true
	}
	var nerr *normalize.NormalizationError
	if errors.As(err, &nerr) {
		return false
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
