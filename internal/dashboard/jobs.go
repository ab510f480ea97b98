package dashboard

import (
	"github.com/sawpanic/cryptodash/internal/cachefabric"
	"github.com/sawpanic/cryptodash/internal/marketdata"
)

// BuildJobs wires the six logical data points spec.md names into Jobs
// whose chains were built from appconfig (which fetchers are included
// depends on which provider keys are configured).
func BuildJobs(btc, eth, bnb, globalTotals, fearGreed, rsi *marketdata.Chain) []Job {
	return []Job{
		{
			Name: "btc_price", CacheKey: "dashboard:btc_price", Strategy: cachefabric.RealTime, Chain: btc,
			Apply:        func(r *Record, res marketdata.CanonicalResult) { r.BTCPriceUSD = res.Fields["price_usd"] },
			ApplyDefault: func(r *Record) { r.BTCPriceUSD = defaultPrice },
		},
		{
			Name: "eth_price", CacheKey: "dashboard:eth_price", Strategy: cachefabric.RealTime, Chain: eth,
			Apply:        func(r *Record, res marketdata.CanonicalResult) { r.ETHPriceUSD = res.Fields["price_usd"] },
			ApplyDefault: func(r *Record) { r.ETHPriceUSD = defaultPrice },
		},
		{
			Name: "bnb_price", CacheKey: "dashboard:bnb_price", Strategy: cachefabric.RealTime, Chain: bnb,
			Apply:        func(r *Record, res marketdata.CanonicalResult) { r.BNBPriceUSD = res.Fields["price_usd"] },
			ApplyDefault: func(r *Record) { r.BNBPriceUSD = defaultPrice },
		},
		{
			Name: "global_market_totals", CacheKey: "dashboard:global_totals", Strategy: cachefabric.MediumTerm, Chain: globalTotals,
			Apply: func(r *Record, res marketdata.CanonicalResult) {
				r.MarketTotals = res.Fields
			},
			ApplyDefault: func(r *Record) { r.MarketTotals = map[string]float64{} },
		},
		{
			Name: "fear_greed_index", CacheKey: "dashboard:fear_greed", Strategy: cachefabric.ShortTerm, Chain: fearGreed,
			Apply:        func(r *Record, res marketdata.CanonicalResult) { r.FearGreedIndex = res.Fields["index"] },
			ApplyDefault: func(r *Record) { r.FearGreedIndex = defaultFearGreedIndex },
		},
		{
			Name: "daily_rsi", CacheKey: "dashboard:daily_rsi", Strategy: cachefabric.LongTerm, Chain: rsi,
			Apply: func(r *Record, res marketdata.CanonicalResult) {
				if v, ok := res.Fields["rsi"]; ok {
					r.DailyRSI = v
					return
				}
				r.DailyRSI = res.Fields["day_change_pct"]
			},
			ApplyDefault: func(r *Record) { r.DailyRSI = defaultDailyRSI },
		},
	}
}
