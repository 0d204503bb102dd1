package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "UPDATE jobs SET state = ? WHERE id = ? AND version = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "UPDATE jobs SET state = $1 WHERE id = $2 AND version = $3", Postgres.Rebind(q))
}

func TestForUpdate(t *testing.T) {
	assert.Equal(t, "", SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestOpenSQLiteMemory(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpenLiteCreatesDataDir(t *testing.T) {
	dir := t.TempDir() + "/nested"
	db, d, err := Open(t.Context(), "", dir)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, SQLite, d)
	assert.DirExists(t, dir)
}
