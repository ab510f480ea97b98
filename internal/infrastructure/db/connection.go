// Package db manages the pooled Postgres connection backing
// internal/reportstore and internal/logsync, grounded on the teacher's
// db.Manager (same pooling knobs and PingContext-based health check,
// repurposed from a trades/regimes/premove repository bundle to the
// single reportstore.Store this domain needs).
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds connection-pool tuning, separate from appconfig.Config's
// DSN/Enabled fields so a deployment can override pool sizing without
// touching provider credentials.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Manager owns the *sqlx.DB connection and reports its health.
type Manager struct {
	db *sqlx.DB
}

// Open connects to dsn, applies the pool config, and verifies
// connectivity with a bounded ping before returning.
func Open(dsn string, config Config) (*Manager, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Manager{db: db}, nil
}

func (m *Manager) DB() *sqlx.DB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// Stats reports connection-pool counters, surfaced through /health so an
// operator can see pool pressure without a separate Postgres admin query.
func (m *Manager) Stats() map[string]any {
	stats := m.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Ping verifies connectivity within timeout.
func (m *Manager) Ping(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.db.PingContext(pingCtx)
}
