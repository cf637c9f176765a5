// Package alternativeme reads the alternative.me Fear and Greed index.
package alternativeme

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

const indexName = "fear_and_greed"

// Adapter implements provider.Adapter for alternative.me.
type Adapter struct{}

func (Adapter) Categories() []model.Category { return []model.Category{model.Sentiment} }

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	if req.Category != model.Sentiment {
		return provider.Endpoint{}, fmt.Errorf("alternativeme %s: %w", req.Category, provider.ErrUnsupported)
	}
	return provider.Endpoint{
		Path:  "/fng/",
		Query: url.Values{"limit": {strconv.Itoa(req.IntParam("limit", 1))}},
	}, nil
}

// Normalize reads {"data": [{"value": "40", "value_classification": "Fear", "timestamp": "1551157133"}]}.
func (Adapter) Normalize(_ provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.Sentiment, source, now)
	root, ok := normalize.Object(raw)
	if !ok {
		return b, normalize.Errorf(source, model.Sentiment, "expected object")
	}
	if meta, ok := normalize.Object(root["metadata"]); ok {
		if msg := normalize.StringField(meta, "error"); msg != "" {
			return b, provider.NewAPIError(source, msg)
		}
	}
	data, ok := normalize.Array(root["data"])
	if !ok {
		return b, normalize.Errorf(source, model.Sentiment, "missing data array")
	}
	for _, d := range data {
		m, ok := normalize.Object(d)
		if !ok {
			continue
		}
		observed, ok := normalize.TimeField(m, "timestamp")
		if !ok {
			continue
		}
		b.Sentiment = append(b.Sentiment, model.SentimentReading{
			Index:          indexName,
			Value:          normalize.FloatField(m, "value"),
			Classification: normalize.StringField(m, "value_classification"),
			ObservedAt:     observed,
		})
	}
	return b.Stamp(source, now, 0), nil
}

// New builds the alternative.me provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
