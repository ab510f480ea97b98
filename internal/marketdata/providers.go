package marketdata

import (
	"context"
	"fmt"
	"strconv"
)

// httpFetcher is the shared shape for every concrete provider below: build
// a URL, GET it through the Client's retrying, rate-limited path, and hand
// the body to a provider-specific decode function.
type httpFetcher struct {
	name       string
	endpoint   string
	url        string
	maxRetries int
	client     *Client
	decode     func(body []byte) (map[string]float64, error)
}

func (f *httpFetcher) Name() string { return f.name }

func (f *httpFetcher) Fetch(ctx context.Context) (CanonicalResult, error) {
	resp, err := f.client.GetWithRetry(ctx, f.url, f.endpoint, f.maxRetries)
	if err != nil {
		return CanonicalResult{}, err
	}
	fields, err := f.decode(resp.Body)
	if err != nil {
		return CanonicalResult{}, &ProviderError{Code: ErrCodeSemantic, Provider: f.name, Message: err.Error(), Cause: err}
	}
	return CanonicalResult{Fields: fields}, nil
}

// NewBinanceTicker fetches a single symbol's last price from Binance's
// public ticker endpoint: GET /api/v3/ticker/price?symbol=BTCUSDT.
func NewBinanceTicker(client *Client, symbol string) Fetcher {
	return &httpFetcher{
		name:       "binance_ticker",
		endpoint:   "binance_ticker",
		url:        fmt.Sprintf("https://api.binance.com/api/v3/ticker/price?symbol=%s", symbol),
		maxRetries: 3,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				Price string `json:"price"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			price, err := strconv.ParseFloat(payload.Price, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing price %q: %w", payload.Price, err)
			}
			return map[string]float64{"price_usd": price}, nil
		},
	}
}

// NewCoinGeckoSimplePrice fetches a single coin's USD price from
// CoinGecko's /simple/price endpoint.
func NewCoinGeckoSimplePrice(client *Client, coinID string) Fetcher {
	return &httpFetcher{
		name:       "coingecko_simple_price",
		endpoint:   "coingecko_simple_price",
		url:        fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd", coinID),
		maxRetries: 3,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload map[string]struct {
				USD float64 `json:"usd"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			entry, ok := payload[coinID]
			if !ok {
				return nil, fmt.Errorf("coingecko response missing coin id %q", coinID)
			}
			return map[string]float64{"price_usd": entry.USD}, nil
		},
	}
}

// NewCoinGeckoGlobal fetches aggregate market totals (total market cap,
// total volume, BTC dominance) from CoinGecko's /global endpoint.
func NewCoinGeckoGlobal(client *Client) Fetcher {
	return &httpFetcher{
		name:       "coingecko_global",
		endpoint:   "coingecko_global",
		url:        "https://api.coingecko.com/api/v3/global",
		maxRetries: 3,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				Data struct {
					TotalMarketCap map[string]float64 `json:"total_market_cap"`
					TotalVolume    map[string]float64 `json:"total_volume"`
					MarketCapPct   map[string]float64 `json:"market_cap_percentage"`
				} `json:"data"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			return map[string]float64{
				"total_market_cap_usd": payload.Data.TotalMarketCap["usd"],
				"total_volume_usd":     payload.Data.TotalVolume["usd"],
				"btc_dominance_pct":    payload.Data.MarketCapPct["btc"],
			}, nil
		},
	}
}

// NewCoinMarketCapQuotes fetches a symbol's quote from CoinMarketCap,
// requiring an API key; callers should only include this fetcher in a
// chain when a key is configured (see appconfig).
func NewCoinMarketCapQuotes(client *Client, apiKey, symbol string) Fetcher {
	return &httpFetcher{
		name:       "coinmarketcap_quotes",
		endpoint:   "coinmarketcap_quotes",
		url:        fmt.Sprintf("https://pro-api.coinmarketcap.com/v2/cryptocurrency/quotes/latest?symbol=%s&CMC_PRO_API_KEY=%s", symbol, apiKey),
		maxRetries: 2,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				Data map[string][]struct {
					Quote struct {
						USD struct {
							Price float64 `json:"price"`
						} `json:"USD"`
					} `json:"quote"`
				} `json:"data"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			entries, ok := payload.Data[symbol]
			if !ok || len(entries) == 0 {
				return nil, fmt.Errorf("coinmarketcap response missing symbol %q", symbol)
			}
			return map[string]float64{"price_usd": entries[0].Quote.USD.Price}, nil
		},
	}
}

// NewFearGreedIndex fetches the current value from alternative.me's
// Fear & Greed Index endpoint.
func NewFearGreedIndex(client *Client) Fetcher {
	return &httpFetcher{
		name:       "fear_greed_index",
		endpoint:   "fear_greed_index",
		url:        "https://api.alternative.me/fng/?limit=1",
		maxRetries: 3,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				Data []struct {
					Value string `json:"value"`
				} `json:"data"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			if len(payload.Data) == 0 {
				return nil, fmt.Errorf("fear & greed response had no data points")
			}
			value, err := strconv.ParseFloat(payload.Data[0].Value, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing index value %q: %w", payload.Data[0].Value, err)
			}
			return map[string]float64{"index": value}, nil
		},
	}
}

// NewTaapiRSI fetches a daily RSI reading for symbol from TAAPI.io,
// requiring a configured secret.
func NewTaapiRSI(client *Client, secret, symbol string) Fetcher {
	return &httpFetcher{
		name:       "taapi_rsi",
		endpoint:   "taapi_rsi",
		url:        fmt.Sprintf("https://api.taapi.io/rsi?secret=%s&exchange=binance&symbol=%s&interval=1d", secret, symbol),
		maxRetries: 2,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				Value float64 `json:"value"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			return map[string]float64{"rsi": payload.Value}, nil
		},
	}
}

// NewFinnhubQuote fetches a quote from Finnhub as the RSI chain's
// fallback when TAAPI is unavailable; Finnhub doesn't compute RSI itself,
// so this fetcher reports the day's price change percent as a coarse
// momentum proxy field rather than claiming a real RSI value.
func NewFinnhubQuote(client *Client, apiKey, symbol string) Fetcher {
	return &httpFetcher{
		name:       "finnhub_quote",
		endpoint:   "finnhub_quote",
		url:        fmt.Sprintf("https://finnhub.io/api/v1/quote?symbol=%s&token=%s", symbol, apiKey),
		maxRetries: 2,
		client:     client,
		decode: func(body []byte) (map[string]float64, error) {
			var payload struct {
				DP float64 `json:"dp"`
			}
			if err := DecodeJSON(body, &payload); err != nil {
				return nil, err
			}
			return map[string]float64{"day_change_pct": payload.DP}, nil
		},
	}
}
