package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dbx_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM t`)
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	return n
}

func TestWithTx_Commits(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES ('a'), ('b')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, db))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES ('a')`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, countRows(t, db))
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := setupDB(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = WithTx(context.Background(), db, func(ctx context.Context, tx DBTX) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES ('a')`)
			require.NoError(t, err)
			panic("kaboom")
		})
	})
	assert.Zero(t, countRows(t, db))
}

func TestWithTx_BeginAndCommitErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("no conn"))
	err = WithTx(context.Background(), db, func(context.Context, DBTX) error { return nil })
	assert.ErrorContains(t, err, "begin tx")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	err = WithTx(context.Background(), db, func(context.Context, DBTX) error { return nil })
	assert.ErrorContains(t, err, "commit tx")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpectAffected(t *testing.T) {
	assert.NoError(t, ExpectAffected(sqlmock.NewResult(0, 1)))
	assert.ErrorIs(t, ExpectAffected(sqlmock.NewResult(0, 0)), common.ErrNotFound)
	assert.ErrorContains(t, ExpectAffected(sqlmock.NewResult(0, 3)), "unexpected rows affected: 3")
	assert.ErrorContains(t, ExpectAffected(sqlmock.NewErrorResult(errors.New("x"))), "rows affected")
}
