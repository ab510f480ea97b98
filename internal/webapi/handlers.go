package webapi

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptodash/internal/cachefabric"
	"github.com/sawpanic/cryptodash/internal/dashboard"
	"github.com/sawpanic/cryptodash/internal/netlimit"
	"github.com/sawpanic/cryptodash/internal/reportstore"
)

const summaryCacheKey = "dashboard:summary"

// cacheHeaderValue maps an internal cache tier to the x-cache header
// vocabulary spec.md §6 defines: hit|l2-hit|miss|empty.
func cacheHeaderValue(tier cachefabric.Tier) string {
	switch tier {
	case cachefabric.TierL1:
		return "hit"
	case cachefabric.TierL2:
		return "l2-hit"
	default:
		return "miss"
	}
}

// Handlers bundles every dependency the HTTP surface needs. It holds no
// business logic of its own beyond response shaping — the Aggregator,
// Cache Manager, rate limiter, and report store do the real work.
type Handlers struct {
	Aggregator *dashboard.Aggregator
	Cache      *cachefabric.Manager
	Limiter    *netlimit.Limiter
	Reports    *reportstore.Store
	Broadcast  *Broadcaster
	Logger     zerolog.Logger

	// DBStats optionally reports Postgres connection-pool counters; nil
	// when Postgres is disabled.
	DBStats func() map[string]any

	indexTmpl *template.Template
}

func NewHandlers(agg *dashboard.Aggregator, cache *cachefabric.Manager, limiter *netlimit.Limiter, reports *reportstore.Store, broadcast *Broadcaster, logger zerolog.Logger) *Handlers {
	return &Handlers{
		Aggregator: agg,
		Cache:      cache,
		Limiter:    limiter,
		Reports:    reports,
		Broadcast:  broadcast,
		Logger:     logger,
		indexTmpl:  template.Must(template.New("index").Parse(indexTemplateSource)),
	}
}

const indexTemplateSource = `<!DOCTYPE html>
<html><head><title>CryptoDash</title></head>
<body>
<h1>CryptoDash</h1>
<p>BTC: {{.BTCPriceUSD}} USD</p>
<p>ETH: {{.ETHPriceUSD}} USD</p>
<p>Fear &amp; Greed: {{.FearGreedIndex}}</p>
<p>Generated at: {{.GeneratedAt}}</p>
</body></html>`

func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	withGzip(func(w http.ResponseWriter, r *http.Request) {
		record, tier, err := h.getOrFetchSummary(r.Context(), false)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Cache", tier)
		if err != nil {
			http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
			return
		}
		_ = h.indexTmpl.Execute(w, record)
	})(w, r)
}

func (h *Handlers) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	record, tier, err := h.getOrFetchSummary(r.Context(), false)
	writeJSONWithCacheHeader(w, tier, http.StatusOK, record, err)
}

// DashboardSummaryRefresh implements spec.md §8's `force_realtime_refresh=true`
// boundary behavior: every per-field read — not just the outer summary
// key — skips L1 and L2 and goes straight to the provider chains, while
// still writing fresh results back into both tiers.
func (h *Handlers) DashboardSummaryRefresh(w http.ResponseWriter, r *http.Request) {
	record, tier, err := h.getOrFetchSummary(r.Context(), true)
	writeJSONWithCacheHeader(w, tier, http.StatusOK, record, err)
}

// getOrFetchSummary folds the original_source "rapid cache" pattern into
// the RealTime strategy (spec.md §9's own resolution for that open
// question): a whole-dashboard summary is cached for RealTime.L1TTL so a
// burst of browser refreshes doesn't re-run the Aggregator's fan-out on
// every request, while still recomputing as soon as that short window
// elapses. forceRefresh bypasses that outer cache key too and routes
// every job through Aggregator.FetchDashboardForceRefresh.
func (h *Handlers) getOrFetchSummary(ctx context.Context, forceRefresh bool) (dashboard.Record, string, error) {
	if !forceRefresh {
		if raw, tier, ok := h.Cache.Get(ctx, summaryCacheKey, cachefabric.RealTime); ok {
			var record dashboard.Record
			if err := json.Unmarshal(raw, &record); err == nil {
				return record, cacheHeaderValue(tier), nil
			}
		}
	}

	var record dashboard.Record
	var err error
	if forceRefresh {
		record, err = h.Aggregator.FetchDashboardForceRefresh(ctx)
	} else {
		record, err = h.Aggregator.FetchDashboard(ctx)
	}
	if err != nil {
		return dashboard.Record{}, "empty", err
	}

	if raw, merr := json.Marshal(record); merr == nil {
		_ = h.Cache.SetWithStrategy(ctx, summaryCacheKey, raw, cachefabric.RealTime)
	}
	return record, "miss", nil
}

func writeJSONWithCacheHeader(w http.ResponseWriter, tier string, status int, v any, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", tier)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.Limiter.StatusAll()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statuses)
}

// HealthResponse matches internal/http/contracts.go's HealthResponse shape,
// generalized from per-exchange providers to per-endpoint netlimit status.
type HealthResponse struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Endpoints map[string]netlimit.Status `json:"endpoints"`
	Postgres  map[string]any             `json:"postgres,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Endpoints: h.Limiter.StatusAll(),
	}
	if h.DBStats != nil {
		resp.Postgres = h.DBStats()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	managerStats, l1Stats := h.Cache.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"manager": managerStats,
		"l1":      l1Stats,
	})
}

func (h *Handlers) CacheClear(w http.ResponseWriter, r *http.Request) {
	n, err := h.Cache.InvalidateAll(r.Context(), "dashboard:*")
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"l2_keys_cleared": n})
}

func (h *Handlers) LatestReport(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Reports.List(r.Context(), 1)
	if err != nil || len(reports) == 0 {
		http.Error(w, "no reports available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(reports[0].RenderedHTML))
}

func (h *Handlers) Report(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid report id", http.StatusBadRequest)
		return
	}
	report, err := h.Reports.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(report.RenderedHTML))
}

func (h *Handlers) ReportsList(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Reports.List(r.Context(), 50)
	if err != nil {
		http.Error(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reports)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webapi: websocket upgrade failed")
		return
	}
	h.Broadcast.Register(conn)
}
