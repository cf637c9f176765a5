package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
)

// DefaultTimeout applies when a provider declares none.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 4 << 20

// Endpoint is the upstream request an adapter derives from a Request.
type Endpoint struct {
	Path  string
	Query url.Values
	// Body is JSON-encoded for POST requests.
	Body any
}

// Adapter knows one upstream API: its URL scheme and payload shape.
type Adapter interface {
	Categories() []model.Category
	Endpoint(req Request) (Endpoint, error)
	// Normalize maps a decoded payload to canonical records. It must not
	// panic on malformed input; missing structure yields an empty batch and
	// a *normalize.NormalizationError.
	Normalize(req Request, raw any, source string, now time.Time) (model.Batch, error)
}

// Config is the transport configuration of an Upstream.
type Config struct {
	Name       string
	BaseURL    string
	Method     string
	Credential string
	HeaderKey  string
	QueryKey   string
	Headers    map[string]string
	Timeout    time.Duration
}

// Upstream is a Provider backed by an HTTP API and an Adapter.
type Upstream struct {
	cfg        Config
	adapter    Adapter
	httpClient HTTPClient
	header     http.Header
	now        func() time.Time
}

// Option is a configuration option for an Upstream.
type Option func(*Upstream)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(u *Upstream) {
		u.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(u *Upstream) {
		for key, values := range header {
			for _, value := range values {
				u.header.Add(key, value)
			}
		}
	}
}

// WithClock replaces time.Now for the generated_at stamp.
func WithClock(now func() time.Time) Option {
	return func(u *Upstream) {
		u.now = now
	}
}

// NewUpstream creates a provider for the API at cfg.BaseURL.
func NewUpstream(cfg Config, adapter Adapter, options ...Option) (*Upstream, error) {
	if cfg.Name == "" {
		return nil, errors.New("upstream: name is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("upstream %s: adapter is required", cfg.Name)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("upstream %s: invalid base url: %w", cfg.Name, err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	u := &Upstream{
		cfg:        cfg,
		adapter:    adapter,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		now:        time.Now,
	}
	u.header.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		u.header.Set(k, v)
	}
	for _, option := range options {
		option(u)
	}
	return u, nil
}

func (u *Upstream) Name() string { return u.cfg.Name }

// Supports reports whether the adapter serves cat.
func (u *Upstream) Supports(cat model.Category) bool {
	return slices.Contains(u.adapter.Categories(), cat)
}

// Fetch performs one upstream call bounded by the provider timeout and
// normalizes the answer.
func (u *Upstream) Fetch(ctx context.Context, req Request) (model.Batch, error) {
	if !u.Supports(req.Category) {
		return model.Batch{}, fmt.Errorf("%s %s: %w", u.cfg.Name, req.Category, ErrUnsupported)
	}
	ep, err := u.adapter.Endpoint(req)
	if err != nil {
		return model.Batch{}, fmt.Errorf("%s: building request: %w", u.cfg.Name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	httpReq, err := u.newRequest(callCtx, ep)
	if err != nil {
		return model.Batch{}, err
	}

	res, err := u.httpClient.Do(httpReq)
	if err != nil {
		return model.Batch{}, TransportError(ctx, u.cfg.Name, u.cfg.Timeout, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return model.Batch{}, &HTTPError{
			Provider:   u.cfg.Name,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	raw, err := normalize.Decode(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return model.Batch{}, TransportError(ctx, u.cfg.Name, u.cfg.Timeout, err)
		}
		return model.Batch{}, fmt.Errorf("%s: %w", u.cfg.Name, err)
	}
	return u.adapter.Normalize(req, raw, u.cfg.Name, u.now())
}

func (u *Upstream) newRequest(ctx context.Context, ep Endpoint) (*http.Request, error) {
	query := url.Values{}
	if ep.Query != nil {
		query = maps.Clone(ep.Query)
	}
	if u.cfg.QueryKey != "" && u.cfg.Credential != "" {
		query.Set(u.cfg.QueryKey, u.cfg.Credential)
	}

	target := u.cfg.BaseURL + ep.Path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader = http.NoBody
	if u.cfg.Method == http.MethodPost && ep.Body != nil {
		b, err := json.Marshal(ep.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding body: %w", u.cfg.Name, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, u.cfg.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", u.cfg.Name, err)
	}
	req.Header = u.header.Clone()
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.cfg.HeaderKey != "" && u.cfg.Credential != "" {
		req.Header.Set(u.cfg.HeaderKey, u.cfg.Credential)
	}
	return req, nil
}

// TransportError separates the caller giving up (parent is done) from the
// provider exceeding its own timeout.
func TransportError(parent context.Context, name string, timeout time.Duration, err error) error {
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("%s: %w", name, perr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: name, After: timeout}
	}
	return fmt.Errorf("%s: performing request: %w", name, err)
}
