// Package aggregator answers data requests by walking a category's provider
// chain behind circuit breakers, rate limits and a TTL cache.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketfeed/internal/breaker"
	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
	"marketfeed/internal/ratelimit"
	"marketfeed/internal/registry"
)

// PrimarySource is the meta source reported for answers from the primary.
const PrimarySource = "primary"

const (
	DefaultChainTimeout = 45 * time.Second
	DefaultShortTTL     = 10 * time.Second
	DefaultFanOutLimit  = 8
)

// DefaultTTLs are the cache lifetimes per category.
func DefaultTTLs() map[model.Category]time.Duration {
	return map[model.Category]time.Duration{
		model.MarketData: 30 * time.Second,
		model.OHLC:       5 * time.Minute,
		model.News:       10 * time.Minute,
		model.Sentiment:  time.Hour,
		model.Gas:        15 * time.Second,
	}
}

// Source supplies the provider chain of a category in priority order.
// *registry.Registry implements it.
type Source interface {
	Chain(cat model.Category) []registry.Entry
}

// Request is one data request.
type Request struct {
	// Caller is the rate limit key, typically the client address.
	Caller      string
	Category    model.Category
	Params      map[string]string
	PrimaryOnly bool
}

// Response is a canonical batch with its provenance.
type Response struct {
	Data model.Batch `json:"data" msgpack:"data"`
	Meta model.Meta  `json:"meta" msgpack:"meta"`
}

// Aggregator owns the breaker set, caller limiter and cache used for every
// request. It is safe for concurrent use.
type Aggregator struct {
	source   Source
	primary  provider.Provider
	breakers *breaker.Set
	limiter  *ratelimit.Limiter
	cache    *cache.Manager[Response]
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	ttls         map[model.Category]time.Duration
	shortTTL     time.Duration
	chainTimeout time.Duration
	fanOutLimit  int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPrimary designates the source tried before the chain.
func WithPrimary(p provider.Provider) Option {
	return func(a *Aggregator) { a.primary = p }
}

func WithBreakers(s *breaker.Set) Option {
	return func(a *Aggregator) { a.breakers = s }
}

// WithCallerLimiter enables per-caller admission.
func WithCallerLimiter(l *ratelimit.Limiter) Option {
	return func(a *Aggregator) { a.limiter = l }
}

func WithCache(m *cache.Manager[Response]) Option {
	return func(a *Aggregator) { a.cache = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithTTL overrides the cache lifetime of one category.
func WithTTL(cat model.Category, ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttls[cat] = ttl }
}

// WithShortTTL sets the lifetime of primary answers.
func WithShortTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.shortTTL = ttl }
}

// WithChainTimeout bounds a whole fallback walk. Non-positive values keep
// the default.
func WithChainTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.chainTimeout = d
		}
	}
}

// WithFanOutLimit bounds concurrent calls in FanOut. Non-positive values
// keep the default.
func WithFanOutLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.fanOutLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

func New(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:       source,
		log:          zerolog.Nop(),
		now:          time.Now,
		newID:        uuid.NewString,
		ttls:         DefaultTTLs(),
		shortTTL:     DefaultShortTTL,
		chainTimeout: DefaultChainTimeout,
		fanOutLimit:  DefaultFanOutLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("component", "aggregator").Logger()
	if a.breakers == nil {
		a.breakers = breaker.NewSet(breaker.DefaultConfig(), a.log)
	}
	if a.cache == nil {
		a.cache = cache.NewManager[Response](cache.NewMemoryBackend(cache.DefaultMaxEntries), a.log, cache.WithClock(a.now))
	}
	return a
}

func (a *Aggregator) Breakers() *breaker.Set { return a.breakers }

func (a *Aggregator) Cache() *cache.Manager[Response] { return a.cache }

// CallerLimiter returns the caller limiter, nil when callers are unlimited.
func (a *Aggregator) CallerLimiter() *ratelimit.Limiter { return a.limiter }

// TTL is the cache lifetime of cat.
func (a *Aggregator) TTL(cat model.Category) time.Duration {
	return a.ttls[cat]
}

// Fetch admits the caller, serves from cache when possible and otherwise
// runs the fallback chain once per key however many callers ask at once.
func (a *Aggregator) Fetch(ctx context.Context, req Request) (Response, error) {
	if !req.Category.Valid() {
		return Response{}, fmt.Errorf("unknown category %q", req.Category)
	}
	if a.limiter != nil {
		if err := a.limiter.Check(req.Caller); err != nil {
			return Response{}, err
		}
	}

	prefix := req.Category.String()
	if req.PrimaryOnly {
		prefix = PrimarySource + ":" + prefix
	}
	key := cache.Key(prefix, req.Params)

	look, err := a.cache.GetOrSet(ctx, key, func(ctx context.Context) (cache.Fill[Response], error) {
		res, err := a.FetchWithFallback(ctx, req.Category, req.Params, req.PrimaryOnly)
		if err != nil {
			return cache.Fill[Response]{}, err
		}
		ttl := time.Duration(res.Meta.CacheTTLSeconds) * time.Second
		return cache.Fill[Response]{Value: res, Source: res.Meta.Source, TTL: ttl}, nil
	})
	if err != nil {
		return Response{}, err
	}

	res := look.Value
	if look.Hit {
		// Cached values decode their times in the local zone.
		res.Data = res.Data.UTC()
		res.Meta.GeneratedAt = res.Meta.GeneratedAt.UTC()
	}
	res.Meta.Cached = look.Hit
	res.Meta.RequestID = a.newID()
	return res, nil
}

// FetchWithFallback tries the primary source, then unless primaryOnly every
// provider of the category in priority order, and returns the first
// non-empty answer. It never merges answers of several providers.
func (a *Aggregator) FetchWithFallback(ctx context.Context, cat model.Category, params map[string]string, primaryOnly bool) (Response, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, a.chainTimeout)
	defer cancel()

	req := provider.Request{Category: cat, Params: params}
	var attempts []Attempt

	if a.primary != nil {
		b, att := a.attempt(ctx, a.primary.Name(), a.primary, req)
		attempts = append(attempts, att)
		if att.Err == nil {
			return a.respond(b, PrimarySource, a.shortTTL, attempts), nil
		}
		if err := parent.Err(); err != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", cat, err)
		}
	}
	if primaryOnly {
		cause := ErrNoPrimary
		if len(attempts) > 0 {
			cause = attempts[0].Err
		}
		return Response{}, &PrimaryUnavailableError{Category: cat, Err: cause}
	}

	chain := a.source.Chain(cat)
	for i, e := range chain {
		if err := parent.Err(); err != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", cat, err)
		}
		if ctx.Err() != nil {
			for _, rest := range chain[i:] {
				attempts = append(attempts, Attempt{Provider: rest.Config.Name, Skipped: true, Err: ctx.Err()})
			}
			a.log.Warn().Stringer("category", cat).Dur("timeout", a.chainTimeout).Msg("fallback chain deadline reached")
			break
		}

		b, att := a.attempt(ctx, e.Config.Name, e.Provider, req)
		attempts = append(attempts, att)
		if att.Err == nil {
			return a.respond(b, e.Config.Name, a.ttls[cat], attempts), nil
		}
	}
	if err := parent.Err(); err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", cat, err)
	}

	fail := &AllProvidersFailedError{Category: cat, Attempts: attempts}
	a.log.Error().Stringer("category", cat).Strs("attempted", fail.Attempted()).Msg("all providers failed")
	return Response{}, fail
}

// attempt calls one provider behind its breaker and records the outcome.
// Att.Err is nil only for a non-empty batch.
func (a *Aggregator) attempt(ctx context.Context, name string, p provider.Provider, req provider.Request) (model.Batch, Attempt) {
	att := Attempt{Provider: name}
	br := a.breakers.Get(name)
	if !br.CanAttempt() {
		att.Skipped = true
		att.Err = br.Err()
		a.log.Debug().Str("provider", name).Msg("circuit open, skipping")
		return model.Batch{}, att
	}

	start := a.now()
	b, err := p.Fetch(ctx, req)
	att.Latency = a.now().Sub(start)

	var nerr *normalize.NormalizationError
	switch {
	case err == nil && !b.Empty():
		br.RecordSuccess()
		return b, att
	case err == nil:
		br.RecordSuccess()
		att.Err = ErrEmptyResult
		a.log.Info().Str("provider", name).Stringer("category", req.Category).Msg("empty result, trying next provider")
	case errors.As(err, &nerr):
		br.RecordSuccess()
		att.Err = err
		a.log.Warn().Err(err).Str("provider", name).Stringer("category", req.Category).Msg("normalization failed")
	case errors.Is(err, ratelimit.ErrExceeded):
		br.Release()
		att.Skipped = true
		att.Err = err
		a.log.Info().Str("provider", name).Err(err).Msg("provider rate limit reached, skipping")
	case ctx.Err() != nil:
		// The request gave up; the provider is not to blame.
		br.Release()
		att.Err = err
	case provider.Retryable(err):
		br.RecordFailure()
		att.Err = err
		a.log.Warn().Err(err).Str("provider", name).Dur("latency", att.Latency).Msg("provider call failed")
	default:
		br.Release()
		att.Err = err
		a.log.Warn().Err(err).Str("provider", name).Msg("provider rejected request")
	}
	return model.Batch{}, att
}

func (a *Aggregator) respond(b model.Batch, source string, ttl time.Duration, attempts []Attempt) Response {
	at := b.GeneratedAt
	if at.IsZero() {
		at = a.now()
	}
	b = b.Stamp(source, at, ttl)
	attempted := make([]string, 0, len(attempts))
	for _, att := range attempts {
		if !att.Skipped {
			attempted = append(attempted, att.Provider)
		}
	}
	return Response{
		Data: b,
		Meta: model.Meta{
			Source:          source,
			GeneratedAt:     b.GeneratedAt,
			CacheTTLSeconds: int(ttl / time.Second),
			Attempted:       attempted,
		},
	}
}
