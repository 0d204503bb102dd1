package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
	"github.com/Mindburn-Labs/buildmarket/pkg/sqldb"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	created_at BIGINT NOT NULL,
	version BIGINT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at, id);
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	version BIGINT NOT NULL,
	body TEXT NOT NULL
);
`

// SQLStore persists records as JSON bodies with an optimistic version column.
// On Postgres the row is additionally locked with SELECT ... FOR UPDATE.
type SQLStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
}

func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Init creates the tables.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlSchema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func (s *SQLStore) CreateJob(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.q("INSERT INTO jobs (id, created_at, version, body) VALUES (?, ?, 1, ?)"),
		rec.Job.ID(), rec.Job.CreatedAt().UnixNano(), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", rec.Job.ID(), ErrExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.q("SELECT body FROM jobs WHERE id = ?"), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeRecord(body)
}

func decodeRecord(body string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	var out *Record
	err := s.update(ctx, "jobs", id, func(body string) (string, error) {
		rec, err := decodeRecord(body)
		if err != nil {
			return "", err
		}
		if err := fn(rec); err != nil {
			return "", err
		}
		next, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("encode job: %w", err)
		}
		out = rec
		return string(next), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM jobs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutProfile(ctx context.Context, p *profile.WorkerProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.q("INSERT INTO profiles (id, owner, version, body) VALUES (?, ?, 1, ?)"),
		p.ID, string(p.Owner), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile %s: %w", p.ID, ErrExists)
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (*profile.WorkerProfile, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.q("SELECT body FROM profiles WHERE id = ?"), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return decodeProfile(body)
}

func decodeProfile(body string) (*profile.WorkerProfile, error) {
	var p profile.WorkerProfile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) UpdateProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	var out *profile.WorkerProfile
	err := s.update(ctx, "profiles", id, func(body string) (string, error) {
		p, err := decodeProfile(body)
		if err != nil {
			return "", err
		}
		if err := fn(p); err != nil {
			return "", err
		}
		next, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("encode profile: %w", err)
		}
		out = p
		return string(next), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) TakeProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version int64
		body    string
	)
	err = tx.QueryRowContext(ctx,
		s.q("SELECT version, body FROM profiles WHERE id = ?"+s.dialect.ForUpdate()), id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	p, err := decodeProfile(body)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, s.q("DELETE FROM profiles WHERE id = ? AND version = ?"), id, version)
	if err != nil {
		return nil, fmt.Errorf("delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("profile %s: %w", id, ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// update runs one read-modify-write of table row id inside a transaction.
func (s *SQLStore) update(ctx context.Context, table, id string, fn func(body string) (string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version int64
		body    string
	)
	err = tx.QueryRowContext(ctx,
		s.q("SELECT version, body FROM "+table+" WHERE id = ?"+s.dialect.ForUpdate()), id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", table, err)
	}

	next, err := fn(body)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		s.q("UPDATE "+table+" SET body = ?, version = ? WHERE id = ? AND version = ?"),
		next, version+1, id, version)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
