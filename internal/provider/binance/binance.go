// Package binance serves tickers and klines through the go-binance SDK
// instead of a hand-built HTTP adapter.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"marketfeed/internal/model"
	"marketfeed/internal/provider"
)

// Config configures the Binance provider.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Quote      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Provider is a provider.Provider over the Binance spot REST API.
type Provider struct {
	name    string
	quote   string
	timeout time.Duration
	client  *gobinance.Client
	now     func() time.Time
}

func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = provider.DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := gobinance.NewClient(cfg.APIKey, "")
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return &Provider{
		name:    cfg.Name,
		quote:   strings.ToUpper(cfg.Quote),
		timeout: cfg.Timeout,
		client:  client,
		now:     cfg.Now,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (model.Batch, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch req.Category {
	case model.MarketData:
		return p.tickers(ctx, callCtx, req)
	case model.OHLC:
		return p.klines(ctx, callCtx, req)
	default:
		return model.Batch{}, fmt.Errorf("%s %s: %w", p.name, req.Category, provider.ErrUnsupported)
	}
}

// pair maps BTC to BTCUSDT; symbols already carrying the quote pass through.
func (p *Provider) pair(symbol string) string {
	if strings.HasSuffix(symbol, p.quote) && len(symbol) > len(p.quote) {
		return symbol
	}
	return symbol + p.quote
}

func (p *Provider) symbols(req provider.Request) []string {
	if s := req.Symbols(); len(s) > 0 {
		return s
	}
	return []string{"BTC", "ETH"}
}

func (p *Provider) tickers(parent, ctx context.Context, req provider.Request) (model.Batch, error) {
	symbols := p.symbols(req)
	pairs := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pair := p.pair(s)
		pairs = append(pairs, pair)
		bySymbol[pair] = s
	}

	stats, err := p.client.NewListPriceChangeStatsService().Symbols(pairs).Do(ctx)
	if err != nil {
		return model.Batch{}, p.classify(parent, err)
	}

	now := p.now()
	b := model.NewBatch(model.MarketData, p.name, now)
	for _, st := range stats {
		if st == nil {
			continue
		}
		sym, ok := bySymbol[st.Symbol]
		if !ok {
			sym = strings.TrimSuffix(st.Symbol, p.quote)
		}
		b.Ticks = append(b.Ticks, model.MarketTick{
			Symbol:    sym,
			Currency:  strings.ToLower(p.quote),
			Price:     parseFloat(st.LastPrice),
			Change24h: parseFloat(st.PriceChangePercent),
			Volume24h: parseFloat(st.QuoteVolume),
		})
	}
	return b.Stamp(p.name, now, 0), nil
}

func (p *Provider) klines(parent, ctx context.Context, req provider.Request) (model.Batch, error) {
	symbol := p.symbols(req)[0]
	interval := req.Param("interval", "1h")

	rows, err := p.client.NewKlinesService().
		Symbol(p.pair(symbol)).
		Interval(interval).
		Limit(req.IntParam("limit", 24)).
		Do(ctx)
	if err != nil {
		return model.Batch{}, p.classify(parent, err)
	}

	now := p.now()
	b := model.NewBatch(model.OHLC, p.name, now)
	for _, k := range rows {
		if k == nil {
			continue
		}
		b.Candles = append(b.Candles, model.OHLCCandle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return b.Stamp(p.name, now, 0), nil
}

// classify maps SDK errors onto the provider error taxonomy. Binance error
// codes in the -1100 range reject the request itself; -1003 is throttling.
func (p *Provider) classify(parent context.Context, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		switch {
		case apiErr.Code == -1003 || apiErr.Code == -1015:
			status = http.StatusTooManyRequests
		case apiErr.Code == -2014 || apiErr.Code == -2015:
			status = http.StatusUnauthorized
		case apiErr.Code <= -1100 && apiErr.Code > -1200:
			status = http.StatusBadRequest
		}
		return &provider.HTTPError{Provider: p.name, StatusCode: status, Body: apiErr.Message}
	}
	return provider.TransportError(parent, p.name, p.timeout, err)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
