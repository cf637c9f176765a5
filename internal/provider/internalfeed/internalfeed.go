// Package internalfeed reads canonical batches from an in-house data
// service. It is normally configured as the primary source.
package internalfeed

import (
	"encoding/json"
	"net/url"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

// Adapter implements provider.Adapter for the internal feed. The service
// speaks the canonical Batch JSON directly.
type Adapter struct{}

func (Adapter) Categories() []model.Category { return model.Categories }

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	q := url.Values{}
	for k, v := range req.Params {
		q.Set(k, v)
	}
	return provider.Endpoint{
		Path:  "/v1/" + req.Category.String(),
		Query: q,
		Body:  map[string]any{"category": req.Category, "params": req.Params},
	}, nil
}

func (Adapter) Normalize(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	empty := model.NewBatch(req.Category, source, now)
	if _, ok := normalize.Object(raw); !ok {
		return empty, normalize.Errorf(source, req.Category, "expected batch object")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return empty, normalize.Errorf(source, req.Category, "re-encoding payload: %v", err)
	}
	var batch model.Batch
	if err := json.Unmarshal(b, &batch); err != nil {
		return empty, normalize.Errorf(source, req.Category, "payload is not a batch: %v", err)
	}
	if batch.Kind == "" {
		batch.Kind = req.Category
	}
	if batch.Kind != req.Category {
		return empty, normalize.Errorf(source, req.Category, "got %s batch", batch.Kind)
	}
	at := now
	if !batch.GeneratedAt.IsZero() {
		at = batch.GeneratedAt
	}
	return batch.Stamp(source, at, 0), nil
}

// New builds the internal feed provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
