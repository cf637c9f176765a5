package ratelimit

import (
	"context"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

// GuardedProvider wraps a Provider and rejects calls over the provider's
// own limits without touching the network. It never waits; the caller moves
// on to the next provider instead.
type GuardedProvider struct {
	P       provider.Provider
	Limiter *Limiter
}

// Guard wraps p when limits are configured.
func Guard(p provider.Provider, limits Limits) provider.Provider {
	if !limits.Enabled() {
		return p
	}
	return GuardWith(p, New(limits, 1))
}

// GuardWith wraps p with an existing limiter, so several providers talking
// to the same upstream can share one quota. A nil limiter returns p.
func GuardWith(p provider.Provider, l *Limiter) provider.Provider {
	if l == nil {
		return p
	}
	return &GuardedProvider{P: p, Limiter: l}
}

func (g *GuardedProvider) Name() string { return g.P.Name() }

func (g *GuardedProvider) Fetch(ctx context.Context, req provider.Request) (model.Batch, error) {
	if g.Limiter != nil {
		if err := g.Limiter.Check(g.P.Name()); err != nil {
			return model.Batch{}, err
		}
	}
	return g.P.Fetch(ctx, req)
}

// Unwrap returns the guarded provider.
func (g *GuardedProvider) Unwrap() provider.Provider { return g.P }
