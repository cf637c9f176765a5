// Package coingecko talks to the CoinGecko v3 REST API.
package coingecko

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

// DefaultSymbols are requested when the caller names none.
var DefaultSymbols = []string{"BTC", "ETH"}

// coinIDs maps ticker symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"USDT":  "tether",
	"USDC":  "usd-coin",
}

// CoinID resolves a symbol; unknown symbols are passed through lower-cased
// so callers may also use raw CoinGecko ids.
func CoinID(symbol string) string {
	if id, ok := coinIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// Adapter implements provider.Adapter for CoinGecko.
type Adapter struct{}

func (Adapter) Categories() []model.Category {
	return []model.Category{model.MarketData, model.OHLC}
}

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	symbols := requestSymbols(req)
	switch req.Category {
	case model.MarketData:
		ids := make([]string, 0, len(symbols))
		for _, s := range symbols {
			ids = append(ids, CoinID(s))
		}
		return provider.Endpoint{
			Path: "/simple/price",
			Query: url.Values{
				"ids":                 {strings.Join(ids, ",")},
				"vs_currencies":       {req.Currency()},
				"include_24hr_change": {"true"},
				"include_24hr_vol":    {"true"},
				"include_market_cap":  {"true"},
			},
		}, nil
	case model.OHLC:
		return provider.Endpoint{
			Path: "/coins/" + url.PathEscape(CoinID(symbols[0])) + "/ohlc",
			Query: url.Values{
				"vs_currency": {req.Currency()},
				"days":        {strconv.Itoa(req.IntParam("days", 1))},
			},
		}, nil
	default:
		return provider.Endpoint{}, fmt.Errorf("coingecko %s: %w", req.Category, provider.ErrUnsupported)
	}
}

func requestSymbols(req provider.Request) []string {
	if s := req.Symbols(); len(s) > 0 {
		return s
	}
	return DefaultSymbols
}

// New builds the CoinGecko provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
