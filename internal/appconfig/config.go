// Package appconfig loads cryptodash's runtime configuration, grounded on
// internal/infrastructure/db/connection.go's yaml+env Config struct shape
// and internal/config/guards.go's file-then-env loader pattern.
package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole-process configuration: HTTP bind address, backing
// stores, per-provider credentials, and the cache/event-log knobs spec.md
// names.
type Config struct {
	HTTP struct {
		Host         string        `yaml:"host" env:"HTTP_HOST"`
		Port         int           `yaml:"port" env:"HTTP_PORT"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"http"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	Postgres struct {
		DSN          string        `yaml:"dsn" env:"PG_DSN"`
		Enabled      bool          `yaml:"enabled" env:"PG_ENABLED"`
		QueryTimeout time.Duration `yaml:"query_timeout"`
	} `yaml:"postgres"`

	Providers struct {
		TaapiSecret        string `yaml:"taapi_secret" env:"TAAPI_SECRET"`
		CoinMarketCapKey   string `yaml:"coinmarketcap_key" env:"CMC_API_KEY"`
		FinnhubKey         string `yaml:"finnhub_key" env:"FINNHUB_API_KEY"`
	} `yaml:"providers"`

	Cache struct {
		L1MaxEntries      int           `yaml:"l1_max_entries"`
		L1CleanupInterval time.Duration `yaml:"l1_cleanup_interval"`
	} `yaml:"cache"`

	EventLog struct {
		MaxLength       int           `yaml:"max_length"`
		RingBufferSize  int           `yaml:"ring_buffer_size"`
		SyncInterval    time.Duration `yaml:"sync_interval"`
		Topics          []string      `yaml:"topics"`
	} `yaml:"event_log"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the same baseline values DefaultConfig()/DefaultAppConfig()
// use in the teacher: safe for local development, requiring explicit
// opt-in (a non-empty DSN, a Postgres Enabled flag) before touching
// external state.
func Default() Config {
	var c Config
	c.HTTP.Host = "127.0.0.1"
	c.HTTP.Port = 8080
	c.HTTP.ReadTimeout = 10 * time.Second
	c.HTTP.WriteTimeout = 10 * time.Second
	c.HTTP.IdleTimeout = 60 * time.Second

	c.Redis.Addr = "127.0.0.1:6379"
	c.Redis.DB = 0

	c.Postgres.Enabled = false
	c.Postgres.QueryTimeout = 5 * time.Second

	c.Cache.L1MaxEntries = 2000
	c.Cache.L1CleanupInterval = time.Minute

	c.EventLog.MaxLength = 1000
	c.EventLog.RingBufferSize = 1000
	c.EventLog.SyncInterval = 30 * time.Second
	c.EventLog.Topics = []string{
		"btc_price", "eth_price", "bnb_price",
		"global_market_totals", "fear_greed_index", "daily_rsi",
	}

	c.LogLevel = "info"
	return c
}

// Load reads configPath (if non-empty) over the defaults, then applies
// environment variable overrides named by each field's `env` tag.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("PG_ENABLED"); v != "" {
		c.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TAAPI_SECRET"); v != "" {
		c.Providers.TaapiSecret = v
	}
	if v := os.Getenv("CMC_API_KEY"); v != "" {
		c.Providers.CoinMarketCapKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Providers.FinnhubKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate enforces the minimum required configuration: TAAPI is the one
// credential with no fallback-free substitute in the default chain set.
func (c Config) Validate() error {
	if c.Providers.TaapiSecret == "" {
		return fmt.Errorf("providers.taapi_secret is required")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres.enabled is true")
	}
	return nil
}
