// Package sqldb holds the small amount of SQL plumbing shared by the SQL
// backends: dialect selection, placeholder rebinding and connection setup for
// lite mode (SQLite) and Postgres.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL syntax differences between the supported engines.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Rebind converts '?' placeholders to the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ForUpdate returns the row-lock suffix for SELECTs inside a transaction.
// SQLite serializes writers on a single connection and has no row locks.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// Open connects to Postgres when dsn is set and to a SQLite file under
// dataDir otherwise.
func Open(ctx context.Context, dsn, dataDir string) (*sql.DB, Dialect, error) {
	if dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("failed to ping postgres: %w", err)
		}
		return db, Postgres, nil
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := OpenSQLite(filepath.Join(dataDir, "buildmarket.db"))
	if err != nil {
		return nil, "", err
	}
	return db, SQLite, nil
}

// OpenSQLite opens a SQLite database at path. Use ":memory:" in tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: every transaction is serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	return db, nil
}
