package coingecko

import (
	"time"

	"marketfeed/internal/model"
	"marketfeed/internal/normalize"
	"marketfeed/internal/provider"
)

func (Adapter) Normalize(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	switch req.Category {
	case model.OHLC:
		return normalizeOHLC(req, raw, source, now)
	default:
		return normalizePrices(req, raw, source, now)
	}
}

// normalizePrices reads {"bitcoin": {"usd": 1, "usd_24h_change": 2, ...}}.
func normalizePrices(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.MarketData, source, now)
	byID, ok := normalize.Object(raw)
	if !ok {
		return b, normalize.Errorf(source, model.MarketData, "expected object keyed by coin id")
	}
	cur := req.Currency()
	for _, sym := range requestSymbols(req) {
		fields, ok := normalize.Object(byID[CoinID(sym)])
		if !ok {
			continue
		}
		b.Ticks = append(b.Ticks, model.MarketTick{
			Symbol:    sym,
			Currency:  cur,
			Price:     normalize.FloatField(fields, cur),
			Change24h: normalize.FloatField(fields, cur+"_24h_change"),
			Volume24h: normalize.FloatField(fields, cur+"_24h_vol"),
			MarketCap: normalize.FloatField(fields, cur+"_market_cap"),
		})
	}
	return b.Stamp(source, now, 0), nil
}

// normalizeOHLC reads [[ms, open, high, low, close], ...].
func normalizeOHLC(req provider.Request, raw any, source string, now time.Time) (model.Batch, error) {
	b := model.NewBatch(model.OHLC, source, now)
	rows, ok := normalize.Array(raw)
	if !ok {
		return b, normalize.Errorf(source, model.OHLC, "expected array of candles")
	}
	symbol := requestSymbols(req)[0]
	interval := ohlcInterval(req.IntParam("days", 1))
	for _, r := range rows {
		row, ok := normalize.Array(r)
		if !ok || len(row) < 5 {
			continue
		}
		openTime, ok := normalize.Time(row[0])
		if !ok {
			continue
		}
		c := model.OHLCCandle{Symbol: symbol, Interval: interval, OpenTime: openTime}
		c.Open, _ = normalize.Float(row[1])
		c.High, _ = normalize.Float(row[2])
		c.Low, _ = normalize.Float(row[3])
		c.Close, _ = normalize.Float(row[4])
		b.Candles = append(b.Candles, c)
	}
	return b.Stamp(source, now, 0), nil
}

// ohlcInterval is the candle granularity CoinGecko picks for a day range.
func ohlcInterval(days int) string {
	switch {
	case days <= 2:
		return "30m"
	case days <= 30:
		return "4h"
	default:
		return "4d"
	}
}
