package aggregate

import (
	"testing"
	"time"

	"marketfeed/internal/model"
)

func tick(sym, cur string, price float64, src string, at time.Time) model.MarketTick {
	return model.MarketTick{
		Envelope: model.Envelope{Source: src, GeneratedAt: at},
		Symbol:   sym,
		Currency: cur,
		Price:    price,
	}
}

func TestLatest_NewestWinsAcrossAliases(t *testing.T) {
	t1 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(1 * time.Hour)

	in := []model.MarketTick{
		tick("XBT", "USD", 10, "a", t2),
		tick("bitcoin", "usd", 11, "b", t1),
	}

	out := LatestBySymbol(in)
	if len(out) != 1 {
		t.Fatalf("want 1, got %d: %+v", len(out), out)
	}
	got := out[0]
	if got.Symbol != "BTC" || got.Currency != "usd" || got.Price != 10 || !got.GeneratedAt.Equal(t2) {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestLatest_EqualTimestampsLaterInputWins(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	out := LatestBySymbol([]model.MarketTick{
		tick("ETH", "usd", 1, "a", at),
		tick("ETH", "usd", 2, "b", at),
	})
	if len(out) != 1 || out[0].Price != 2 || out[0].Source != "b" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestLatest_SeparatesCurrencies(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	out := LatestBySymbol([]model.MarketTick{
		tick("ETH", "eur", 1, "a", at),
		tick("ETH", "usdt", 2, "b", at),
		tick("BTC", "usd", 3, "c", at),
	})
	if len(out) != 3 {
		t.Fatalf("want 3 rows, got %d: %+v", len(out), out)
	}
	if out[0].Symbol != "BTC" || out[1].Currency != "eur" || out[2].Currency != "usd" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		" btc ":    "BTC",
		"XBT":      "BTC",
		"BTC-USD":  "BTC",
		"eth/usdt": "ETH",
		"Ethereum": "ETH",
		"pepe":     "PEPE",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAveragePrices(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	batches := []model.Batch{
		{Source: "coingecko", Ticks: []model.MarketTick{
			tick("BTC", "usd", 100.1, "coingecko", at),
			tick("ETH", "usd", 0, "coingecko", at),
		}},
		{Source: "binance", Ticks: []model.MarketTick{
			tick("BTC", "usdt", 100.2, "binance", at),
			tick("ETH", "usdt", 10, "binance", at),
		}},
		{Source: "coincap", Ticks: []model.MarketTick{
			tick("xbt", "USD", 100.3, "coincap", at),
		}},
	}

	out := AveragePrices(batches)
	if len(out) != 2 {
		t.Fatalf("want 2 averages, got %d: %+v", len(out), out)
	}
	btc := out[0]
	if btc.Symbol != "BTC" || btc.Samples != 3 || btc.Price.String() != "100.2" {
		t.Fatalf("unexpected BTC average: %+v (%s)", btc, btc.Price)
	}
	if len(btc.Sources) != 3 || btc.Sources[0] != "binance" {
		t.Fatalf("unexpected sources: %v", btc.Sources)
	}
	eth := out[1]
	if eth.Samples != 1 || eth.Price.String() != "10" {
		t.Fatalf("zero prices must not be averaged: %+v", eth)
	}
}

func TestAveragePrices_Empty(t *testing.T) {
	if out := AveragePrices(nil); len(out) != 0 {
		t.Fatalf("want no averages, got %+v", out)
	}
}
