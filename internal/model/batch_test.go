package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]model.Category{
		"market_data": model.MarketData,
		"PRICES":      model.MarketData,
		" ohlc ":      model.OHLC,
		"klines":      model.OHLC,
		"news":        model.News,
		"sentiment":   model.Sentiment,
		"gas":         model.Gas,
	} {
		got, err := model.ParseCategory(in)
		require.NoErrorf(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}

	_, err := model.ParseCategory("weather")
	require.Error(t, err)
}

func TestBatchEmpty(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := model.NewBatch(model.MarketData, "coingecko", now)
	assert.True(t, b.Empty(), "batch without records")

	b.Ticks = []model.MarketTick{{Symbol: "BTC"}}
	assert.True(t, b.Empty(), "tick without a price carries no data")

	b.Ticks = append(b.Ticks, model.MarketTick{Symbol: "ETH", Price: 3100})
	assert.False(t, b.Empty())
	assert.Len(t, b.Records(), 2)
}

func TestBatchStamp(t *testing.T) {
	t.Parallel()

	// Arrange: a batch with records of one kind.
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	b := model.Batch{Kind: model.Gas, Gas: []model.GasPrice{{Chain: "ethereum", Standard: 12}}}

	// Act: stamp it.
	b = b.Stamp("etherscan", at, 15*time.Second)

	// Assert: every record carries the envelope in UTC.
	require.Len(t, b.Gas, 1)
	env := b.Gas[0].Meta()
	assert.Equal(t, "etherscan", env.Source)
	assert.Equal(t, time.UTC, env.GeneratedAt.Location())
	assert.True(t, env.GeneratedAt.Equal(at))
	assert.Equal(t, 15, env.CacheTTLSeconds)
	assert.Equal(t, "etherscan", b.Source)
	assert.Equal(t, model.Gas, b.Records()[0].Kind())
}

func TestBatchUTC(t *testing.T) {
	t.Parallel()

	// Arrange: records whose times were restored in a non-UTC zone.
	tokyo := time.FixedZone("JST", 9*3600)
	at := time.Date(2026, 4, 1, 20, 59, 0, 0, tokyo)
	b := model.Batch{
		Kind:        model.OHLC,
		GeneratedAt: at,
		Candles:     []model.OHLCCandle{{Envelope: model.Envelope{GeneratedAt: at}, Symbol: "BTC", OpenTime: at, Close: 1}},
	}

	// Act: convert.
	got := b.UTC()

	// Assert: every timestamp is UTC and the input is untouched.
	assert.Equal(t, time.UTC, got.GeneratedAt.Location())
	require.Len(t, got.Candles, 1)
	assert.Equal(t, time.UTC, got.Candles[0].GeneratedAt.Location())
	assert.Equal(t, time.UTC, got.Candles[0].OpenTime.Location())
	assert.True(t, got.Candles[0].OpenTime.Equal(at))
	assert.Equal(t, tokyo, b.Candles[0].OpenTime.Location())
	assert.Nil(t, got.Ticks)
}
