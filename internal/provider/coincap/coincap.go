// Package coincap talks to the CoinCap v2 assets API.
package coincap

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
	"marketfeed/internal/provider/coingecko"
)

// Adapter implements provider.Adapter for CoinCap. CoinCap only quotes USD.
type Adapter struct{}

func (Adapter) Categories() []model.Category { return []model.Category{model.MarketData} }

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	if req.Category != model.MarketData {
		return provider.Endpoint{}, fmt.Errorf("coincap %s: %w", req.Category, provider.ErrUnsupported)
	}
	q := url.Values{}
	if symbols := req.Symbols(); len(symbols) > 0 {
		ids := make([]string, 0, len(symbols))
		for _, s := range symbols {
			ids = append(ids, assetID(s))
		}
		q.Set("ids", strings.Join(ids, ","))
	} else {
		q.Set("limit", strconv.Itoa(req.IntParam("limit", 20)))
	}
	return provider.Endpoint{Path: "/assets", Query: q}, nil
}

// assetID shares CoinGecko's slugs, which CoinCap also uses for the
// majors, except where the two differ.
func assetID(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BNB":
		return "binance-coin"
	case "AVAX":
		return "avalanche"
	case "MATIC":
		return "polygon"
	}
	return coingecko.CoinID(symbol)
}

// Normalize reads {"data": [{"symbol": "BTC", "priceUsd": "1", ...}], "timestamp": ms}.
func (Adapter) Normalize(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.MarketData, source, now)
	root, ok := normalize.Object(raw)
	if !ok {
		return b, normalize.Errorf(source, model.MarketData, "expected object")
	}
	assets, ok := normalize.Array(root["data"])
	if !ok {
		return b, normalize.Errorf(source, model.MarketData, "missing data array")
	}
	for _, a := range assets {
		m, ok := normalize.Object(a)
		if !ok {
			continue
		}
		b.Ticks = append(b.Ticks, model.MarketTick{
			Symbol:    normalize.Symbol(normalize.StringField(m, "symbol")),
			Currency:  "usd",
			Price:     normalize.FloatField(m, "priceUsd"),
			Change24h: normalize.FloatField(m, "changePercent24Hr"),
			Volume24h: normalize.FloatField(m, "volumeUsd24Hr"),
			MarketCap: normalize.FloatField(m, "marketCapUsd"),
			Rank:      int(normalize.IntField(m, "rank")),
		})
	}
	at := now
	if ts, ok := normalize.TimeField(root, "timestamp"); ok {
		at = ts
	}
	return b.Stamp(source, at, 0), nil
}

// New builds the CoinCap provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
