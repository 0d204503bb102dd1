package escrow

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

// Custody moves funds between caller accounts and the pool that backs every
// job's escrow balance. Held always equals the sum of job escrow balances
// once each market operation has completed.
type Custody interface {
	// Deposit credits an account.
	Deposit(ctx context.Context, to identity.Address, amount int64) error
	// Hold debits an account into the custody pool.
	Hold(ctx context.Context, from identity.Address, amount int64) error
	// Release pays amount out of the custody pool to an account.
	Release(ctx context.Context, to identity.Address, amount int64) error
	// Balance returns an account's spendable balance.
	Balance(ctx context.Context, addr identity.Address) (int64, error)
	// Held returns the custody pool total.
	Held(ctx context.Context) (int64, error)
}

func checkTransfer(op string, addr identity.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%s %d: %w", op, amount, ErrNegativeAmount)
	}
	if addr.IsZero() {
		return fmt.Errorf("%s: %w", op, identity.ErrNoCaller)
	}
	return nil
}
