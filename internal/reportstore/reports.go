// Package reportstore holds the secondary relational store for long-lived
// rendered dashboard reports (spec.md §6's "relational store" behind
// /crypto_report/{id} and /crypto_reports_list), grounded on
// internal/persistence/postgres/trades_repo.go's repository shape.
package reportstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Report is one persisted, rendered dashboard snapshot.
type Report struct {
	ID          int64     `db:"id" json:"id"`
	Scope       string    `db:"scope" json:"scope"`
	RenderedHTML string   `db:"rendered_html" json:"-"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Store is the PostgreSQL-backed report repository.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// EnsureSchema lazily creates the reports table, matching the idempotent
// table-creation pattern used for stream_backup_<topic> tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reports (
			id BIGSERIAL PRIMARY KEY,
			scope TEXT NOT NULL,
			rendered_html TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Insert stores a rendered report and returns its assigned ID.
func (s *Store) Insert(ctx context.Context, scope, renderedHTML string, generatedAt time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO reports (scope, rendered_html, generated_at)
		VALUES ($1, $2, $3)
		RETURNING id`, scope, renderedHTML, generatedAt).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("duplicate report: %w", err)
		}
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// Get fetches one report by ID.
func (s *Store) Get(ctx context.Context, id int64) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var r Report
	err := s.db.GetContext(ctx, &r, `
		SELECT id, scope, rendered_html, generated_at, created_at
		FROM reports WHERE id = $1`, id)
	return r, err
}

// List returns the most recent reports, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reports []Report
	err := s.db.SelectContext(ctx, &reports, `
		SELECT id, scope, rendered_html, generated_at, created_at
		FROM reports ORDER BY generated_at DESC LIMIT $1`, limit)
	return reports, err
}
