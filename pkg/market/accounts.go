package market

import (
	"context"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
)

// Deposit credits the caller's account.
func (s *Service) Deposit(ctx context.Context, amount int64) (balance int64, err error) {
	ctx, caller, finish := s.track(ctx, "deposit", "")
	defer func() { finish(err) }()

	if caller.IsZero() {
		return 0, identity.ErrNoCaller
	}
	if err := s.custody.Deposit(ctx, caller, amount); err != nil {
		return 0, err
	}
	s.record(ledger.EventFundsDeposited, "", caller, map[string]any{"amount": amount})
	return s.custody.Balance(ctx, caller)
}

// Balance returns the caller's spendable balance.
func (s *Service) Balance(ctx context.Context) (int64, error) {
	caller, err := identity.CallerFrom(ctx)
	if err != nil {
		return 0, err
	}
	return s.custody.Balance(ctx, caller)
}
