package model

import (
	"fmt"
	"strings"
	"time"
)

// Category names a family of market data a provider can serve.
type Category string

const (
	MarketData Category = "market_data"
	OHLC       Category = "ohlc"
	News       Category = "news"
	Sentiment  Category = "sentiment"
	Gas        Category = "gas"
)

// Categories lists every known category in a stable order.
var Categories = []Category{MarketData, OHLC, News, Sentiment, Gas}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts the canonical name in any case. "price" and
// "prices" are accepted as aliases of market_data.
func ParseCategory(s string) (Category, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "price", "prices", "market", "ticker":
		return MarketData, nil
	case "candles", "klines":
		return OHLC, nil
	}
	c := Category(v)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Envelope is the provenance carried by every canonical record.
type Envelope struct {
	Source          string    `json:"source"`
	GeneratedAt     time.Time `json:"generated_at"`
	CacheTTLSeconds int       `json:"cache_ttl_seconds"`
}

// Record is implemented by every canonical entity.
type Record interface {
	Kind() Category
	Meta() Envelope
	Empty() bool
}

// MarketTick is a point-in-time price summary for one asset.
type MarketTick struct {
	Envelope
	Symbol    string  `json:"symbol"`
	Currency  string  `json:"currency"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap"`
	Rank      int     `json:"rank,omitempty"`
}

func (MarketTick) Kind() Category   { return MarketData }
func (t MarketTick) Meta() Envelope { return t.Envelope }
func (t MarketTick) Empty() bool    { return t.Symbol == "" || t.Price == 0 }

// OHLCCandle is one aggregated interval of trading activity.
type OHLCCandle struct {
	Envelope
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

func (OHLCCandle) Kind() Category   { return OHLC }
func (c OHLCCandle) Meta() Envelope { return c.Envelope }
func (c OHLCCandle) Empty() bool    { return c.OpenTime.IsZero() || c.Close == 0 }

// NewsArticle is a headline from a news aggregator.
type NewsArticle struct {
	Envelope
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Publisher   string    `json:"publisher"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Symbols     []string  `json:"symbols,omitempty"`
}

func (NewsArticle) Kind() Category   { return News }
func (a NewsArticle) Meta() Envelope { return a.Envelope }
func (a NewsArticle) Empty() bool    { return a.Title == "" }

// SentimentReading is a market mood index sample on a 0-100 scale.
type SentimentReading struct {
	Envelope
	Index          string    `json:"index"`
	Value          float64   `json:"value"`
	Classification string    `json:"classification"`
	ObservedAt     time.Time `json:"observed_at"`
}

func (SentimentReading) Kind() Category   { return Sentiment }
func (s SentimentReading) Meta() Envelope { return s.Envelope }
func (s SentimentReading) Empty() bool    { return s.ObservedAt.IsZero() }

// GasPrice is a fee estimate for a chain, expressed in Unit (gwei by default).
type GasPrice struct {
	Envelope
	Chain    string  `json:"chain"`
	Safe     float64 `json:"safe"`
	Standard float64 `json:"standard"`
	Fast     float64 `json:"fast"`
	BaseFee  float64 `json:"base_fee"`
	Unit     string  `json:"unit"`
	Block    int64   `json:"block,omitempty"`
}

func (GasPrice) Kind() Category   { return Gas }
func (g GasPrice) Meta() Envelope { return g.Envelope }
func (g GasPrice) Empty() bool    { return g.Standard == 0 && g.Fast == 0 && g.Safe == 0 }
