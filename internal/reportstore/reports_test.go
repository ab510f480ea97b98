package reportstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	store := NewStore(sqlxDB, time.Second)
	return store, mock, func() { db.Close() }
}

func TestStore_InsertReturnsGeneratedID(t *testing.T) {
	store, mock, closeFn := newTestStore(t)
	defer closeFn()

	generatedAt := time.Now()
	mock.ExpectQuery(`INSERT INTO reports`).
		WithArgs("dashboard", "<html></html>", generatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.Insert(context.Background(), "dashboard", "<html></html>", generatedAt)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetReturnsReportByID(t *testing.T) {
	store, mock, closeFn := newTestStore(t)
	defer closeFn()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "scope", "rendered_html", "generated_at", "created_at"}).
		AddRow(int64(7), "dashboard", "<html></html>", now, now)
	mock.ExpectQuery(`SELECT id, scope, rendered_html, generated_at, created_at\s+FROM reports WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	report, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), report.ID)
	require.Equal(t, "dashboard", report.Scope)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListOrdersNewestFirst(t *testing.T) {
	store, mock, closeFn := newTestStore(t)
	defer closeFn()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "scope", "rendered_html", "generated_at", "created_at"}).
		AddRow(int64(2), "dashboard", "<html>2</html>", now, now).
		AddRow(int64(1), "dashboard", "<html>1</html>", now.Add(-time.Hour), now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT id, scope, rendered_html, generated_at, created_at\s+FROM reports ORDER BY generated_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(rows)

	reports, err := store.List(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, int64(2), reports[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
