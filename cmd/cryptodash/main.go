package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptodash/internal/appconfig"
	"github.com/sawpanic/cryptodash/internal/cachefabric"
	"github.com/sawpanic/cryptodash/internal/dashboard"
	db "github.com/sawpanic/cryptodash/internal/infrastructure/db"
	"github.com/sawpanic/cryptodash/internal/eventlog"
	"github.com/sawpanic/cryptodash/internal/logsync"
	"github.com/sawpanic/cryptodash/internal/marketdata"
	"github.com/sawpanic/cryptodash/internal/netlimit"
	"github.com/sawpanic/cryptodash/internal/reportstore"
	"github.com/sawpanic/cryptodash/internal/webapi"
)

const (
	appName = "cryptodash"
	version = "v1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crypto market dashboard caching and external-data fabric",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE:  runServe,
	}
	statsCmd := &cobra.Command{
		Use:   "cache-stats",
		Short: "Print cache manager counters once and exit",
		RunE:  runCacheStats,
	}

	rootCmd.AddCommand(serveCmd, statsCmd)
	rootCmd.RunE = runServe

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("cryptodash: fatal error")
	}
}

func buildChains(cfg appconfig.Config, client *marketdata.Client) (btc, eth, bnb, totals, fng, rsi *marketdata.Chain) {
	btcFetchers := []marketdata.Fetcher{marketdata.NewBinanceTicker(client, "BTCUSDT"), marketdata.NewCoinGeckoSimplePrice(client, "bitcoin")}
	ethFetchers := []marketdata.Fetcher{marketdata.NewBinanceTicker(client, "ETHUSDT"), marketdata.NewCoinGeckoSimplePrice(client, "ethereum")}
	bnbFetchers := []marketdata.Fetcher{marketdata.NewBinanceTicker(client, "BNBUSDT"), marketdata.NewCoinGeckoSimplePrice(client, "binancecoin")}
	if cfg.Providers.CoinMarketCapKey != "" {
		btcFetchers = append(btcFetchers, marketdata.NewCoinMarketCapQuotes(client, cfg.Providers.CoinMarketCapKey, "BTC"))
		ethFetchers = append(ethFetchers, marketdata.NewCoinMarketCapQuotes(client, cfg.Providers.CoinMarketCapKey, "ETH"))
		bnbFetchers = append(bnbFetchers, marketdata.NewCoinMarketCapQuotes(client, cfg.Providers.CoinMarketCapKey, "BNB"))
	}
	// FieldInRange's bounds are inclusive, so a zero price is rejected by a
	// separate positivity check.
	positivePrice := func(r marketdata.CanonicalResult) error {
		if v := r.Fields["price_usd"]; v <= 0 {
			return fmt.Errorf("field %q=%v is not positive", "price_usd", v)
		}
		return nil
	}

	btc = marketdata.NewChain("btc_price", btcFetchers, marketdata.FieldInRange("price_usd", 0, 1_000_000), positivePrice)
	eth = marketdata.NewChain("eth_price", ethFetchers, marketdata.FieldInRange("price_usd", 0, 100_000), positivePrice)
	bnb = marketdata.NewChain("bnb_price", bnbFetchers, marketdata.FieldInRange("price_usd", 0, 10_000_000), positivePrice)
	totals = marketdata.NewChain("global_market_totals", []marketdata.Fetcher{marketdata.NewCoinGeckoGlobal(client)})
	fng = marketdata.NewChain("fear_greed_index", []marketdata.Fetcher{marketdata.NewFearGreedIndex(client)}, marketdata.FieldInRange("index", 0, 100))

	rsiFetchers := []marketdata.Fetcher{marketdata.NewTaapiRSI(client, cfg.Providers.TaapiSecret, "BTC/USDT")}
	if cfg.Providers.FinnhubKey != "" {
		rsiFetchers = append(rsiFetchers, marketdata.NewFinnhubQuote(client, cfg.Providers.FinnhubKey, "BINANCE:BTCUSDT"))
	}
	rsi = marketdata.NewChain("daily_rsi", rsiFetchers)
	return
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l1 := cachefabric.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1CleanupInterval)
	l2 := cachefabric.NewL2(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	cache := cachefabric.NewManager(l1, l2)

	redisLog := eventlog.NewRedisLog(l2.Client(), int64(cfg.EventLog.MaxLength))
	ringBuffer := eventlog.NewRingBufferLog(cfg.EventLog.RingBufferSize)
	log_ := &eventlog.Fallback{Primary: redisLog, Secondary: ringBuffer}

	limiter := netlimit.NewLimiter()
	limiter.Configure("binance_ticker", time.Second)
	limiter.Configure("coingecko_simple_price", 3*time.Second)
	limiter.Configure("coingecko_global", time.Second)
	limiter.Configure("coinmarketcap_quotes", time.Second)
	limiter.Configure("fear_greed_index", 60*time.Second)
	limiter.Configure("taapi_rsi", 60*time.Second)
	limiter.Configure("finnhub_quote", time.Second)

	client := marketdata.NewClient(limiter)
	btc, eth, bnb, totals, fng, rsi := buildChains(cfg, client)
	jobs := dashboard.BuildJobs(btc, eth, bnb, totals, fng, rsi)
	aggregator := dashboard.NewAggregator(jobs, cache, log_, 8*time.Second)

	var dbManager *db.Manager
	var reports *reportstore.Store
	if cfg.Postgres.Enabled {
		dbManager, err = db.Open(cfg.Postgres.DSN, db.DefaultConfig())
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		defer dbManager.Close()
		reports = reportstore.NewStore(dbManager.DB(), cfg.Postgres.QueryTimeout)
		if err := reports.EnsureSchema(cmd.Context()); err != nil {
			return fmt.Errorf("ensuring reports schema: %w", err)
		}
	}

	broadcaster := webapi.NewBroadcaster(log.Logger)
	handlers := webapi.NewHandlers(aggregator, cache, limiter, reports, broadcaster, log.Logger)
	if dbManager != nil {
		handlers.DBStats = dbManager.Stats
	}

	server, err := webapi.NewServer(webapi.ServerConfig{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, handlers, log.Logger)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if dbManager != nil {
		syncer := logsync.NewSyncer(dbManager.DB(), log_, cfg.EventLog.Topics, cfg.EventLog.SyncInterval, log.Logger)
		go syncer.Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Info().Msg("cryptodash: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	l1 := cachefabric.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1CleanupInterval)
	l2 := cachefabric.NewL2(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	cache := cachefabric.NewManager(l1, l2)
	managerStats, l1Stats := cache.Stats()
	fmt.Printf("manager: %+v\nl1: %+v\n", managerStats, l1Stats)
	return nil
}
