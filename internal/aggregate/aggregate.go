// Package aggregate combines ticks gathered from several providers during a
// fan-out. It only averages; it never rejects outliers.
package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketfeed/internal/model"
)

// Key identifies one asset quoted in one currency.
type Key struct {
	Symbol   string
	Currency string
}

// Average is the mean price of one Key across providers.
type Average struct {
	Symbol   string          `json:"symbol"`
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
	Samples  int             `json:"samples"`
	Sources  []string        `json:"sources"`
}

// pricePlaces is the precision averages are rounded to.
const pricePlaces = 8

// aliasMap normalizes asset names and legacy tickers.
var aliasMap = map[string]string{
	"xbt":      "BTC",
	"bitcoin":  "BTC",
	"ether":    "ETH",
	"ethereum": "ETH",
	"solana":   "SOL",
	"ripple":   "XRP",
	"dogecoin": "DOGE",
	"cardano":  "ADA",
}

// currencyAlias pools dollar stablecoin quotes with usd.
var currencyAlias = map[string]string{
	"usdt": "usd",
	"usdc": "usd",
	"busd": "usd",
	"dai":  "usd",
}

// NormalizeSymbol upper-cases s, strips a quote suffix written as
// BTC-USD, BTC/USDT or BTC:USD, and resolves aliases.
//   - xbt, bitcoin -> BTC
//   - ether, ethereum -> ETH
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "-/:"); i > 0 {
		s = s[:i]
	}
	if norm, ok := aliasMap[strings.ToLower(s)]; ok {
		return norm
	}
	return strings.ToUpper(s)
}

// NormalizeCurrency lower-cases c and pools stablecoins with usd. Empty
// reads as usd.
func NormalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	if norm, ok := currencyAlias[c]; ok {
		return norm
	}
	return c
}

func keyOf(t model.MarketTick) Key {
	return Key{Symbol: NormalizeSymbol(t.Symbol), Currency: NormalizeCurrency(t.Currency)}
}

// LatestBySymbol collapses ticks by Key keeping the newest GeneratedAt.
// For equal timestamps, later input wins. Output is sorted by symbol then
// currency and carries the normalized symbol and currency.
func LatestBySymbol(ticks []model.MarketTick) []model.MarketTick {
	latest := make(map[Key]model.MarketTick, len(ticks))
	for _, t := range ticks {
		k := keyOf(t)
		if cur, ok := latest[k]; ok && t.GeneratedAt.Before(cur.GeneratedAt) {
			continue
		}
		t.Symbol, t.Currency = k.Symbol, k.Currency
		latest[k] = t
	}

	out := make([]model.MarketTick, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// AveragePrices averages the newest price of every Key across batches.
// Each batch counts once per Key; empty ticks are ignored.
func AveragePrices(batches []model.Batch) []Average {
	type acc struct {
		sum     decimal.Decimal
		n       int64
		sources []string
	}
	byKey := map[Key]*acc{}
	for _, b := range batches {
		for _, t := range LatestBySymbol(b.Ticks) {
			if t.Empty() || t.Price < 0 {
				continue
			}
			k := Key{Symbol: t.Symbol, Currency: t.Currency}
			a, ok := byKey[k]
			if !ok {
				a = &acc{}
				byKey[k] = a
			}
			a.sum = a.sum.Add(decimal.NewFromFloat(t.Price))
			a.n++
			src := t.Source
			if src == "" {
				src = b.Source
			}
			a.sources = append(a.sources, src)
		}
	}

	out := make([]Average, 0, len(byKey))
	for k, a := range byKey {
		sort.Strings(a.sources)
		out = append(out, Average{
			Symbol:   k.Symbol,
			Currency: k.Currency,
			Price:    a.sum.Div(decimal.NewFromInt(a.n)).Round(pricePlaces),
			Samples:  int(a.n),
			Sources:  a.sources,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
