package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/sqldb"
)

const custodySchema = `
CREATE TABLE IF NOT EXISTS accounts (
	address TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS custody_pool (
	id INTEGER PRIMARY KEY,
	held BIGINT NOT NULL DEFAULT 0 CHECK (held >= 0)
);
INSERT INTO custody_pool (id, held) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// SQLCustody is a Custody backed by SQLite or Postgres.
type SQLCustody struct {
	db      *sql.DB
	dialect sqldb.Dialect
}

// NewSQLCustody creates a custody over db. Call Init before use.
func NewSQLCustody(db *sql.DB, dialect sqldb.Dialect) *SQLCustody {
	return &SQLCustody{db: db, dialect: dialect}
}

// Init creates the custody tables.
func (c *SQLCustody) Init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, custodySchema); err != nil {
		return fmt.Errorf("init custody schema: %w", err)
	}
	return nil
}

func (c *SQLCustody) Deposit(ctx context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("deposit", to, amount); err != nil {
		return err
	}
	return c.credit(ctx, c.db, to, amount)
}

func (c *SQLCustody) Hold(ctx context.Context, from identity.Address, amount int64) error {
	if err := checkTransfer("hold", from, amount); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hold: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var bal int64
	err = tx.QueryRowContext(ctx,
		c.dialect.Rebind("SELECT balance FROM accounts WHERE address = ?"+c.dialect.ForUpdate()),
		string(from)).Scan(&bal)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read balance: %w", err)
	}
	if bal < amount {
		return fmt.Errorf("hold %d from %s: %w", amount, from, ErrInsufficientBalance)
	}

	if _, err := tx.ExecContext(ctx,
		c.dialect.Rebind("UPDATE accounts SET balance = balance - ? WHERE address = ?"),
		amount, string(from)); err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		c.dialect.Rebind("UPDATE custody_pool SET held = held + ? WHERE id = 1 AND held <= ?"),
		amount, math.MaxInt64-amount)
	if err != nil {
		return fmt.Errorf("credit pool: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("credit pool: %w", err)
	} else if n == 0 {
		return fmt.Errorf("hold %d from %s: %w", amount, from, ErrOverflow)
	}
	return tx.Commit()
}

func (c *SQLCustody) Release(ctx context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("release", to, amount); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var held int64
	if err := tx.QueryRowContext(ctx,
		"SELECT held FROM custody_pool WHERE id = 1"+c.dialect.ForUpdate()).Scan(&held); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	if held < amount {
		return fmt.Errorf("release %d to %s: %w", amount, to, ErrInsufficientBalance)
	}

	if _, err := tx.ExecContext(ctx,
		c.dialect.Rebind("UPDATE custody_pool SET held = held - ? WHERE id = 1"),
		amount); err != nil {
		return fmt.Errorf("debit pool: %w", err)
	}
	if err := c.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *SQLCustody) Balance(ctx context.Context, addr identity.Address) (int64, error) {
	var bal int64
	err := c.db.QueryRowContext(ctx,
		c.dialect.Rebind("SELECT balance FROM accounts WHERE address = ?"), string(addr)).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

func (c *SQLCustody) Held(ctx context.Context) (int64, error) {
	var held int64
	if err := c.db.QueryRowContext(ctx, "SELECT held FROM custody_pool WHERE id = 1").Scan(&held); err != nil {
		return 0, fmt.Errorf("read pool: %w", err)
	}
	return held, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// credit upserts the account balance. The conflict update is skipped, and
// ErrOverflow returned, when the sum would leave the int64 range.
func (c *SQLCustody) credit(ctx context.Context, e execer, to identity.Address, amount int64) error {
	res, err := e.ExecContext(ctx, c.dialect.Rebind(
		`INSERT INTO accounts (address, balance) VALUES (?, ?)
		 ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + excluded.balance
		 WHERE accounts.balance <= ?`),
		string(to), amount, math.MaxInt64-amount)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credit %d to %s: %w", amount, to, ErrOverflow)
	}
	return nil
}
