// Package cryptocompare talks to the CryptoCompare min-api for prices,
// historical candles and news.
package cryptocompare

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

var defaultSymbols = []string{"BTC", "ETH"}

// histo maps a candle interval to its endpoint and aggregate factor.
var histo = map[string]struct {
	path      string
	aggregate int
}{
	"1m":  {"/data/v2/histominute", 1},
	"5m":  {"/data/v2/histominute", 5},
	"15m": {"/data/v2/histominute", 15},
	"1h":  {"/data/v2/histohour", 1},
	"4h":  {"/data/v2/histohour", 4},
	"1d":  {"/data/v2/histoday", 1},
}

// Adapter implements provider.Adapter for CryptoCompare.
type Adapter struct{}

func (Adapter) Categories() []model.Category {
	return []model.Category{model.MarketData, model.OHLC, model.News}
}

func (Adapter) Endpoint(req provider.Request) (provider.Endpoint, error) {
	symbols := req.Symbols()
	if len(symbols) == 0 {
		symbols = defaultSymbols
	}
	quote := strings.ToUpper(req.Currency())

	switch req.Category {
	case model.MarketData:
		return provider.Endpoint{
			Path:  "/data/pricemultifull",
			Query: url.Values{"fsyms": {strings.Join(symbols, ",")}, "tsyms": {quote}},
		}, nil
	case model.OHLC:
		interval := req.Param("interval", "1h")
		h, ok := histo[interval]
		if !ok {
			return provider.Endpoint{}, fmt.Errorf("cryptocompare: unsupported interval %q", interval)
		}
		return provider.Endpoint{
			Path: h.path,
			Query: url.Values{
				"fsym":      {symbols[0]},
				"tsym":      {quote},
				"limit":     {strconv.Itoa(req.IntParam("limit", 24))},
				"aggregate": {strconv.Itoa(h.aggregate)},
			},
		}, nil
	case model.News:
		q := url.Values{"lang": {"EN"}}
		if s := req.Symbols(); len(s) > 0 {
			q.Set("categories", strings.Join(s, ","))
		}
		return provider.Endpoint{Path: "/data/v2/news/", Query: q}, nil
	default:
		return provider.Endpoint{}, fmt.Errorf("cryptocompare %s: %w", req.Category, provider.ErrUnsupported)
	}
}

// New builds the CryptoCompare provider.
func New(cfg provider.Config, opts ...provider.Option) (*provider.Upstream, error) {
	return provider.NewUpstream(cfg, Adapter{}, opts...)
}
