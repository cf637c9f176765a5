package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/aggregate"
	"marketfeed/internal/breaker"
	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

// Outcome is the result of one provider in a fan-out. Exactly one of Batch
// and Err is meaningful.
type Outcome struct {
	Provider string        `json:"provider"`
	Batch    model.Batch   `json:"batch,omitzero"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Latency  time.Duration `json:"-"`
}

// FanOutResult holds every provider outcome and, for market data, the
// average price per symbol across the successful ones.
type FanOutResult struct {
	Category  model.Category      `json:"category"`
	Outcomes  []Outcome           `json:"outcomes"`
	Averages  []aggregate.Average `json:"averages,omitempty"`
	Succeeded int                 `json:"succeeded"`
	Meta      model.Meta          `json:"meta"`
}

// Successes returns the outcomes that produced data.
func (r FanOutResult) Successes() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

// FanOut calls every provider of the category concurrently and keeps
// whatever succeeds. One provider failing never cancels the others; the
// call fails only when no provider succeeds.
func (a *Aggregator) FanOut(ctx context.Context, req Request) (FanOutResult, error) {
	if !req.Category.Valid() {
		return FanOutResult{}, fmt.Errorf("unknown category %q", req.Category)
	}
	if a.limiter != nil {
		if err := a.limiter.Check(req.Caller); err != nil {
			return FanOutResult{}, err
		}
	}

	chain := a.source.Chain(req.Category)
	preq := provider.Request{Category: req.Category, Params: req.Params}
	outcomes := make([]Outcome, len(chain))

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, a.chainTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(a.fanOutLimit)
	for i, e := range chain {
		g.Go(func() error {
			b, att := a.attempt(ctx, e.Config.Name, e.Provider, preq)
			o := Outcome{Provider: att.Provider, Err: att.Err, Skipped: att.Skipped, Latency: att.Latency}
			if att.Err == nil {
				o.Batch = b.Stamp(e.Config.Name, b.GeneratedAt, a.ttls[req.Category])
			} else {
				o.Error = att.Err.Error()
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	res := FanOutResult{Category: req.Category, Outcomes: outcomes}
	var batches []model.Batch
	attempts := make([]Attempt, 0, len(outcomes))
	for _, o := range outcomes {
		attempts = append(attempts, Attempt{Provider: o.Provider, Skipped: o.Skipped, Err: o.Err, Latency: o.Latency})
		if !o.Skipped {
			res.Meta.Attempted = append(res.Meta.Attempted, o.Provider)
		}
		if o.Err == nil {
			res.Succeeded++
			batches = append(batches, o.Batch)
		}
	}
	if res.Succeeded == 0 {
		if err := parent.Err(); err != nil {
			return FanOutResult{}, fmt.Errorf("fan-out %s: %w", req.Category, err)
		}
		return FanOutResult{}, &AllProvidersFailedError{Category: req.Category, Attempts: attempts}
	}

	if req.Category == model.MarketData {
		res.Averages = aggregate.AveragePrices(batches)
	}
	res.Meta.Source = "fanout"
	res.Meta.GeneratedAt = a.now().UTC()
	res.Meta.RequestID = a.newID()
	return res, nil
}

// ProviderHealth is the circuit state of one configured provider.
type ProviderHealth struct {
	breaker.Snapshot
	Categories []model.Category `json:"categories"`
	Primary    bool             `json:"primary,omitempty"`
}

// Health reports the breaker of every configured provider, sorted by name.
func (a *Aggregator) Health() []ProviderHealth {
	byName := map[string]*ProviderHealth{}
	add := func(name string, cat model.Category) *ProviderHealth {
		h, ok := byName[name]
		if !ok {
			h = &ProviderHealth{Snapshot: a.breakers.Get(name).Snapshot()}
			byName[name] = h
		}
		if cat != "" {
			h.Categories = append(h.Categories, cat)
		}
		return h
	}
	if a.primary != nil {
		h := add(a.primary.Name(), "")
		h.Primary = true
	}
	for _, cat := range model.Categories {
		for _, e := range a.source.Chain(cat) {
			add(e.Config.Name, cat)
		}
	}

	out := make([]ProviderHealth, 0, len(byName))
	for _, h := range byName {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
