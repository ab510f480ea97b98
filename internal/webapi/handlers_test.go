package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptodash/internal/cachefabric"
	"github.com/sawpanic/cryptodash/internal/dashboard"
	"github.com/sawpanic/cryptodash/internal/eventlog"
	"github.com/sawpanic/cryptodash/internal/marketdata"
	"github.com/sawpanic/cryptodash/internal/netlimit"
)

type noopL2 struct{}

func (noopL2) Get(context.Context, string) ([]byte, bool, error)          { return nil, false, nil }
func (noopL2) Set(context.Context, string, []byte, time.Duration) error   { return nil }
func (noopL2) Keys(context.Context, string) ([]string, error)             { return nil, nil }
func (noopL2) DeleteMany(context.Context, []string) (int, error)          { return 0, nil }

type stubFetcher struct {
	name   string
	fields map[string]float64
}

func (s stubFetcher) Name() string { return s.name }
func (s stubFetcher) Fetch(context.Context) (marketdata.CanonicalResult, error) {
	return marketdata.CanonicalResult{Fields: s.fields}, nil
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	l1 := cachefabric.NewL1(100, time.Hour)
	cache := cachefabric.NewManager(l1, noopL2{})

	mkChain := func(name string, fields map[string]float64) *marketdata.Chain {
		return marketdata.NewChain(name, []marketdata.Fetcher{stubFetcher{name: name, fields: fields}})
	}
	btc := mkChain("btc_price", map[string]float64{"price_usd": 65000})
	eth := mkChain("eth_price", map[string]float64{"price_usd": 3000})
	bnb := mkChain("bnb_price", map[string]float64{"price_usd": 550})
	totals := mkChain("global_market_totals", map[string]float64{"total_market_cap_usd": 2e12})
	fng := mkChain("fear_greed_index", map[string]float64{"index": 42})
	rsi := mkChain("daily_rsi", map[string]float64{"rsi": 61})

	jobs := dashboard.BuildJobs(btc, eth, bnb, totals, fng, rsi)
	agg := dashboard.NewAggregator(jobs, cache, eventlog.NewRingBufferLog(100), 2*time.Second)

	limiter := netlimit.NewLimiter()
	limiter.Configure("binance_ticker", time.Millisecond)

	return NewHandlers(agg, cache, limiter, nil, NewBroadcaster(zerolog.Nop()), zerolog.Nop())
}

func TestHandlers_DashboardSummary_MissThenHit(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/crypto/dashboard-summary", nil)
	rec := httptest.NewRecorder()
	h.DashboardSummary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "miss", rec.Header().Get("X-Cache"))

	var record dashboard.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, 65000.0, record.BTCPriceUSD)

	req2 := httptest.NewRequest(http.MethodGet, "/api/crypto/dashboard-summary", nil)
	rec2 := httptest.NewRecorder()
	h.DashboardSummary(rec2, req2)

	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, "hit", rec2.Header().Get("X-Cache"))
}

func TestHandlers_DashboardSummaryRefresh_BypassesCachedSummary(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/crypto/dashboard-summary", nil)
	h.DashboardSummary(httptest.NewRecorder(), req)

	refreshReq := httptest.NewRequest(http.MethodPost, "/api/crypto/dashboard-summary/refresh", nil)
	rec := httptest.NewRecorder()
	h.DashboardSummaryRefresh(rec, refreshReq)

	require.Equal(t, "miss", rec.Header().Get("X-Cache"))
}

func TestHandlers_Health_ReportsConfiguredEndpoints(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Contains(t, resp.Endpoints, "binance_ticker")
}
