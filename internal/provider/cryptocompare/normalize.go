package cryptocompare

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

func (Adapter) Normalize(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	root, ok := normalize.Object(raw)
	if !ok {
		return model.NewBatch(req.Category, source, now), normalize.Errorf(source, req.Category, "expected object")
	}
	// Errors arrive with status 200 and Response set to "Error".
	if strings.EqualFold(normalize.StringField(root, "Response"), "Error") {
		return model.NewBatch(req.Category, source, now), provider.NewAPIError(source, normalize.StringField(root, "Message"))
	}

	switch req.Category {
	case model.OHLC:
		return normalizeHisto(req, root, source, now)
	case model.News:
		return normalizeNews(root, source, now)
	default:
		return normalizePrices(root, source, now)
	}
}

// normalizePrices reads {"RAW": {"BTC": {"USD": {"PRICE": 1, ...}}}}.
func normalizePrices(root map[string]any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.MarketData, source, now)
	bySymbol, ok := normalize.Object(root["RAW"])
	if !ok {
		return b, normalize.Errorf(source, model.MarketData, "missing RAW section")
	}
	for sym, v := range bySymbol {
		byQuote, ok := normalize.Object(v)
		if !ok {
			continue
		}
		for quote, q := range byQuote {
			m, ok := normalize.Object(q)
			if !ok {
				continue
			}
			b.Ticks = append(b.Ticks, model.MarketTick{
				Symbol:    normalize.Symbol(sym),
				Currency:  strings.ToLower(quote),
				Price:     normalize.FloatField(m, "PRICE"),
				Change24h: normalize.FloatField(m, "CHANGEPCT24HOUR"),
				Volume24h: normalize.FloatField(m, "VOLUME24HOURTO"),
				MarketCap: normalize.FloatField(m, "MKTCAP"),
			})
		}
	}
	slices.SortFunc(b.Ticks, func(x, y model.MarketTick) int {
		return cmp.Compare(x.Symbol, y.Symbol)
	})
	return b.Stamp(source, now, 0), nil
}

// normalizeHisto reads {"Data": {"Data": [{"time": s, "open": 1, ...}]}}.
func normalizeHisto(req provider.Request, root map[string]any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.OHLC, source, now)
	data, ok := normalize.Object(root["Data"])
	if !ok {
		return b, normalize.Errorf(source, model.OHLC, "missing Data section")
	}
	rows, ok := normalize.Array(data["Data"])
	if !ok {
		return b, normalize.Errorf(source, model.OHLC, "missing candle array")
	}
	symbol := defaultSymbols[0]
	if s := req.Symbols(); len(s) > 0 {
		symbol = s[0]
	}
	interval := req.Param("interval", "1h")
	for _, r := range rows {
		m, ok := normalize.Object(r)
		if !ok {
			continue
		}
		openTime, ok := normalize.TimeField(m, "time")
		if !ok {
			continue
		}
		b.Candles = append(b.Candles, model.OHLCCandle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: openTime,
			Open:     normalize.FloatField(m, "open"),
			High:     normalize.FloatField(m, "high"),
			Low:      normalize.FloatField(m, "low"),
			Close:    normalize.FloatField(m, "close"),
			Volume:   normalize.FloatField(m, "volumefrom"),
		})
	}
	return b.Stamp(source, now, 0), nil
}

// normalizeNews reads {"Data": [{"id": "1", "title": "...", ...}]}.
func normalizeNews(root map[string]any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.News, source, now)
	items, ok := normalize.Array(root["Data"])
	if !ok {
		return b, normalize.Errorf(source, model.News, "missing Data array")
	}
	for _, it := range items {
		m, ok := normalize.Object(it)
		if !ok {
			continue
		}
		a := model.NewsArticle{
			ID:        normalize.StringField(m, "id"),
			Title:     normalize.StringField(m, "title"),
			URL:       normalize.StringField(m, "url", "guid"),
			Publisher: normalize.StringField(m, "source"),
			Summary:   normalize.StringField(m, "body"),
		}
		if info, ok := normalize.Object(m["source_info"]); ok {
			if name := normalize.StringField(info, "name"); name != "" {
				a.Publisher = name
			}
		}
		a.PublishedAt, _ = normalize.TimeField(m, "published_on")
		for _, c := range strings.Split(normalize.StringField(m, "categories"), "|") {
			if c = normalize.Symbol(c); c != "" {
				a.Symbols = append(a.Symbols, c)
			}
		}
		b.Articles = append(b.Articles, a)
	}
	return b.Stamp(source, now, 0), nil
}
