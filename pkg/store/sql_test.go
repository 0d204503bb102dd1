package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/buildmarket/pkg/sqldb"
)

func TestSQLStoreSQLite(t *testing.T) {
	db, err := sqldb.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, sqldb.SQLite)
	require.NoError(t, s.Init(context.Background()))
	runStoreSuite(t, s)
}

func TestSQLStorePostgresUpdateLocksRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, sqldb.Postgres)
	body, err := json.Marshal(newRecord(t, "job-1", time.Unix(0, 0).UTC()))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, body FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "body"}).AddRow(3, string(body)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET body = $1, version = $2 WHERE id = $3 AND version = $4")).
		WithArgs(sqlmock.AnyArg(), int64(4), "job-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.UpdateJob(context.Background(), "job-1", func(r *Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.Job.ID())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePostgresVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, sqldb.Postgres)
	body, err := json.Marshal(newRecord(t, "job-1", time.Unix(0, 0).UTC()))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, body FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "body"}).AddRow(3, string(body)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET body = $1, version = $2 WHERE id = $3 AND version = $4")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = s.UpdateJob(context.Background(), "job-1", func(r *Record) error { return nil })
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePostgresNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, sqldb.Postgres)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM jobs WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	_, err = s.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
