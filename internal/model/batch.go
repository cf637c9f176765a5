package model

import "time"

// Batch carries the normalized output of one provider call. Only the slice
// matching Kind is populated.
type Batch struct {
	Kind        Category           `json:"kind"`
	Source      string             `json:"source"`
	GeneratedAt time.Time          `json:"generated_at"`
	Ticks       []MarketTick       `json:"ticks,omitempty"`
	Candles     []OHLCCandle       `json:"candles,omitempty"`
	Articles    []NewsArticle      `json:"articles,omitempty"`
	Sentiment   []SentimentReading `json:"sentiment,omitempty"`
	Gas         []GasPrice         `json:"gas,omitempty"`
}

// NewBatch returns an empty batch stamped with its provenance.
func NewBatch(kind Category, source string, at time.Time) Batch {
	return Batch{Kind: kind, Source: source, GeneratedAt: at.UTC()}
}

// Records returns the populated records as the tagged union.
func (b Batch) Records() []Record {
	out := make([]Record, 0, b.Len())
	for _, r := range b.Ticks {
		out = append(out, r)
	}
	for _, r := range b.Candles {
		out = append(out, r)
	}
	for _, r := range b.Articles {
		out = append(out, r)
	}
	for _, r := range b.Sentiment {
		out = append(out, r)
	}
	for _, r := range b.Gas {
		out = append(out, r)
	}
	return out
}

func (b Batch) Len() int {
	return len(b.Ticks) + len(b.Candles) + len(b.Articles) + len(b.Sentiment) + len(b.Gas)
}

// Empty reports whether no record in the batch carries data.
func (b Batch) Empty() bool {
	for _, r := range b.Records() {
		if !r.Empty() {
			return false
		}
	}
	return true
}

// Stamp sets the envelope on the batch and every record in it.
func (b Batch) Stamp(source string, at time.Time, ttl time.Duration) Batch {
	env := Envelope{Source: source, GeneratedAt: at.UTC(), CacheTTLSeconds: int(ttl / time.Second)}
	b.Source = env.Source
	b.GeneratedAt = env.GeneratedAt
	for i := range b.Ticks {
		b.Ticks[i].Envelope = env
	}
	for i := range b.Candles {
		b.Candles[i].Envelope = env
	}
	for i := range b.Articles {
		b.Articles[i].Envelope = env
	}
	for i := range b.Sentiment {
		b.Sentiment[i].Envelope = env
	}
	for i := range b.Gas {
		b.Gas[i].Envelope = env
	}
	return b
}

// Meta describes where a response came from.
type Meta struct {
	Source          string    `json:"source"`
	GeneratedAt     time.Time `json:"generated_at"`
	CacheTTLSeconds int       `json:"cache_ttl_seconds"`
	Cached          bool      `json:"cached"`
	Attempted       []string  `json:"attempted,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
}

// UTC returns a copy of the batch with every timestamp in UTC.
func (b Batch) UTC() Batch {
	b.GeneratedAt = b.GeneratedAt.UTC()
	b.Ticks = utcEach(b.Ticks, func(r *MarketTick) { r.GeneratedAt = r.GeneratedAt.UTC() })
	b.Candles = utcEach(b.Candles, func(r *OHLCCandle) {
		r.GeneratedAt = r.GeneratedAt.UTC()
		r.OpenTime = r.OpenTime.UTC()
	})
	b.Articles = utcEach(b.Articles, func(r *NewsArticle) {
		r.GeneratedAt = r.GeneratedAt.UTC()
		r.PublishedAt = r.PublishedAt.UTC()
	})
	b.Sentiment = utcEach(b.Sentiment, func(r *SentimentReading) {
		r.GeneratedAt = r.GeneratedAt.UTC()
		r.ObservedAt = r.ObservedAt.UTC()
	})
	b.Gas = utcEach(b.Gas, func(r *GasPrice) { r.GeneratedAt = r.GeneratedAt.UTC() })
	return b
}

func utcEach[T any](in []T, fix func(*T)) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	for i := range out {
		fix(&out[i])
	}
	return out
}
