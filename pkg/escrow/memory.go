package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

// MemoryVault is an in-process Custody.
type MemoryVault struct {
	mu       sync.Mutex
	accounts map[identity.Address]int64
	held     int64
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{accounts: make(map[identity.Address]int64)}
}

func (v *MemoryVault) Deposit(_ context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("deposit", to, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !fits(v.accounts[to], amount) {
		return fmt.Errorf("deposit %d to %s: %w", amount, to, ErrOverflow)
	}
	v.accounts[to] += amount
	return nil
}

func (v *MemoryVault) Hold(_ context.Context, from identity.Address, amount int64) error {
	if err := checkTransfer("hold", from, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.accounts[from] < amount {
		return fmt.Errorf("hold %d from %s: %w", amount, from, ErrInsufficientBalance)
	}
	if !fits(v.held, amount) {
		return fmt.Errorf("hold %d from %s: %w", amount, from, ErrOverflow)
	}
	v.accounts[from] -= amount
	v.held += amount
	return nil
}

func (v *MemoryVault) Release(_ context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("release", to, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held < amount {
		return fmt.Errorf("release %d to %s: %w", amount, to, ErrInsufficientBalance)
	}
	if !fits(v.accounts[to], amount) {
		return fmt.Errorf("release %d to %s: %w", amount, to, ErrOverflow)
	}
	v.held -= amount
	v.accounts[to] += amount
	return nil
}

func (v *MemoryVault) Balance(_ context.Context, addr identity.Address) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accounts[addr], nil
}

func (v *MemoryVault) Held(_ context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held, nil
}
