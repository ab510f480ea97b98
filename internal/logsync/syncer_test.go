package logsync

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptodash/internal/eventlog"
)

func newTestSyncer(t *testing.T, topics []string) (*Syncer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	s := NewSyncer(sqlxDB, eventlog.NewRingBufferLog(100), topics, time.Millisecond, zerolog.Nop())
	return s, mock, func() { db.Close() }
}

func TestSyncer_DrainTopicUpsertsEventsAndAdvancesCheckpoint(t *testing.T) {
	s, mock, closeFn := newTestSyncer(t, []string{"btc_price"})
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, s.log.CreateGroup(ctx, "btc_price", groupName))
	_, err := s.log.Append(ctx, "btc_price", map[string]any{"price_usd": 65000.0}, nil)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS stream_backup_btc_price`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.ensureTable(ctx, "btc_price"))

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO stream_backup_btc_price`)
	mock.ExpectExec(`INSERT INTO stream_backup_btc_price`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.Zero(t, s.checkpoints["btc_price"])
	require.NoError(t, s.drainTopic(ctx, "btc_price"))
	require.False(t, s.checkpoints["btc_price"].IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncer_DrainTopicSkipsDuplicateKeyErrors(t *testing.T) {
	s, mock, closeFn := newTestSyncer(t, []string{"eth_price"})
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, s.log.CreateGroup(ctx, "eth_price", groupName))
	_, err := s.log.Append(ctx, "eth_price", map[string]any{"price_usd": 3000.0}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO stream_backup_eth_price`)
	mock.ExpectExec(`INSERT INTO stream_backup_eth_price`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectCommit()

	require.NoError(t, s.drainTopic(ctx, "eth_price"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncer_DrainTopicNoEventsIsNoop(t *testing.T) {
	s, _, closeFn := newTestSyncer(t, []string{"empty_topic"})
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, s.log.CreateGroup(ctx, "empty_topic", groupName))
	require.NoError(t, s.drainTopic(ctx, "empty_topic"))
	require.Zero(t, s.checkpoints["empty_topic"])
}
