// Package logsync implements the Log-to-Store Sync (C9): a periodic drain
// of the Event Log into a Postgres backup table per topic, grounded on
// internal/persistence/postgres/trades_repo.go's sqlx batch-insert and
// pq.Error duplicate-key handling.
package logsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptodash/internal/eventlog"
)

const groupName = "logsync"

// Syncer periodically reads new events from each configured topic (using a
// dedicated consumer group so it never re-reads what it already persisted)
// and upserts them into stream_backup_<topic>.
type Syncer struct {
	db       *sqlx.DB
	log      eventlog.Log
	topics   []string
	interval time.Duration
	consumer string
	logger   zerolog.Logger

	checkpoints map[string]time.Time
}

func NewSyncer(db *sqlx.DB, log eventlog.Log, topics []string, interval time.Duration, logger zerolog.Logger) *Syncer {
	return &Syncer{
		db:          db,
		log:         log,
		topics:      topics,
		interval:    interval,
		consumer:    "logsync-0",
		logger:      logger,
		checkpoints: make(map[string]time.Time),
	}
}

// Run ticks every s.interval until ctx is cancelled, draining each topic on
// every tick. It never drops an event: ensureTable/CreateGroup are
// idempotent, and the checkpoint for a topic only advances after its batch
// commits successfully.
func (s *Syncer) Run(ctx context.Context) {
	for _, topic := range s.topics {
		if err := s.log.CreateGroup(ctx, topic, groupName); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("logsync: create consumer group failed")
		}
		if err := s.ensureTable(ctx, topic); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("logsync: ensure backup table failed")
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drainAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Syncer) drainAll(ctx context.Context) {
	for _, topic := range s.topics {
		if err := s.drainTopic(ctx, topic); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("logsync: drain failed, will retry next tick")
		}
	}
}

func (s *Syncer) ensureTable(ctx context.Context, topic string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			data JSONB NOT NULL,
			metadata JSONB NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			backup_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, tableName(topic))
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func tableName(topic string) string {
	return "stream_backup_" + topic
}

func (s *Syncer) drainTopic(ctx context.Context, topic string) error {
	events, err := s.log.Read(ctx, topic, groupName, s.consumer, 500)
	if err != nil {
		return fmt.Errorf("reading topic %s: %w", topic, err)
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, topic, data, metadata, event_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			backup_timestamp = now()`, tableName(topic))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event %s data: %w", event.ID, err)
		}
		metaJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event %s metadata: %w", event.ID, err)
		}

		if _, err := stmt.ExecContext(ctx, event.ID, topic, dataJSON, metaJSON, event.Timestamp); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				continue // already backed up by a concurrent syncer instance
			}
			return fmt.Errorf("insert event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.checkpoints[topic] = time.Now()
	return nil
}
