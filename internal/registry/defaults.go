package registry

import (
	"marketfeed/internal/model"
	"marketfeed/internal/ratelimit"
)

// Defaults is the built-in provider set used when no configuration file is
// present or it cannot be used. Credentials come from the environment.
func Defaults() []ProviderConfig {
	return []ProviderConfig{
		{
			Name: "coingecko", BaseURL: "https://api.coingecko.com/api/v3", Category: model.MarketData,
			Credential: "${COINGECKO_API_KEY}", HeaderKey: "x-cg-demo-api-key", Priority: 1, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 0.5, Burst: 5, PerMinute: 30},
		},
		{
			Name: "coincap", BaseURL: "https://api.coincap.io/v2", Category: model.MarketData,
			Priority: 2, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerMinute: 200},
		},
		{
			Name: "cryptocompare", BaseURL: "https://min-api.cryptocompare.com", Category: model.MarketData,
			Credential: "${CRYPTOCOMPARE_API_KEY}", QueryKey: "api_key", Priority: 3, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 20, Burst: 20, PerHour: 2000},
		},
		{
			Name: "binance", BaseURL: "https://api.binance.com", Category: model.MarketData,
			Priority: 4, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 10, Burst: 20, PerMinute: 1200},
		},
		{
			Name: "binance", BaseURL: "https://api.binance.com", Category: model.OHLC,
			Priority: 1, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 10, Burst: 20, PerMinute: 1200},
		},
		{
			Name: "coingecko", BaseURL: "https://api.coingecko.com/api/v3", Category: model.OHLC,
			Credential: "${COINGECKO_API_KEY}", HeaderKey: "x-cg-demo-api-key", Priority: 2, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 0.5, Burst: 5, PerMinute: 30},
		},
		{
			Name: "cryptocompare", BaseURL: "https://min-api.cryptocompare.com", Category: model.OHLC,
			Credential: "${CRYPTOCOMPARE_API_KEY}", QueryKey: "api_key", Priority: 3, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 20, Burst: 20, PerHour: 2000},
		},
		{
			Name: "cryptocompare", BaseURL: "https://min-api.cryptocompare.com", Category: model.News,
			Credential: "${CRYPTOCOMPARE_API_KEY}", QueryKey: "api_key", Priority: 1, TimeoutSec: 15,
			RateLimit: ratelimit.Limits{PerSecond: 20, Burst: 20, PerHour: 2000},
		},
		{
			Name: "cryptopanic", BaseURL: "https://cryptopanic.com/api/v1", Category: model.News,
			Credential: "${CRYPTOPANIC_API_KEY}", QueryKey: "auth_token", Priority: 2, TimeoutSec: 15,
			RateLimit: ratelimit.Limits{PerSecond: 1, Burst: 2, PerMinute: 5},
		},
		{
			Name: "alternativeme", BaseURL: "https://api.alternative.me", Category: model.Sentiment,
			Priority: 1, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerMinute: 60},
		},
		{
			Name: "etherscan", BaseURL: "https://api.etherscan.io", Category: model.Gas,
			Credential: "${ETHERSCAN_API_KEY}", QueryKey: "apikey", Priority: 1, TimeoutSec: 10,
			RateLimit: ratelimit.Limits{PerSecond: 5, Burst: 5, PerHour: 100000},
		},
	}
}
