// Package dashboard implements the Aggregator (C8): concurrent fan-out of
// the Fallback Chains into one dashboard-shaped record.
package dashboard

import "time"

// Record is the dashboard summary returned by /api/crypto/dashboard-summary.
type Record struct {
	GeneratedAt time.Time `json:"generated_at"`

	BTCPriceUSD float64 `json:"btc_price_usd"`
	ETHPriceUSD float64 `json:"eth_price_usd"`
	BNBPriceUSD float64 `json:"bnb_price_usd"`

	// MarketTotals holds the global-market-totals chain's fields
	// (total_market_cap_usd, total_volume_usd, btc_dominance_pct). It is
	// an empty map, not zero-valued scalars, when that chain is
	// exhausted — spec.md's documented default for this field.
	MarketTotals map[string]float64 `json:"market_totals"`

	FearGreedIndex float64 `json:"fear_greed_index"`
	DailyRSI       float64 `json:"daily_rsi"`

	PartialFailure bool              `json:"partial_failure"`
	DataSources    map[string]string `json:"data_sources"`
}

// defaults applied when a chain is exhausted or times out, per spec.md's
// documented-default table.
const (
	defaultPrice          = 0.0
	defaultFearGreedIndex = 50.0
	defaultDailyRSI       = 50.0
)
