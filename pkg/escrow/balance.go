// Package escrow provides the per-job fund balance and the custody backends
// that hold funds on behalf of jobs between selection and payout.
package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNegativeAmount is returned when a deposit or transfer amount is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrInsufficientBalance is returned when an account or the custody pool
	// cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOverflow is returned when a credit would exceed the int64 range.
	ErrOverflow = errors.New("amount overflows balance")
)

// fits reports whether balance+amount stays within int64 for amount >= 0.
func fits(balance, amount int64) bool {
	return balance <= math.MaxInt64-amount
}

// Balance is a single fund balance in the smallest currency unit.
// The zero value is an empty balance.
type Balance struct {
	amount int64
}

// Deposit adds amount to the balance.
func (b *Balance) Deposit(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrNegativeAmount)
	}
	if !fits(b.amount, amount) {
		return fmt.Errorf("deposit %d onto %d: %w", amount, b.amount, ErrOverflow)
	}
	b.amount += amount
	return nil
}

// WithdrawAll empties the balance and returns what it held.
func (b *Balance) WithdrawAll() int64 {
	out := b.amount
	b.amount = 0
	return out
}

// Amount returns the current balance.
func (b Balance) Amount() int64 {
	return b.amount
}

// IsZero reports whether the balance is empty.
func (b Balance) IsZero() bool {
	return b.amount == 0
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.amount)
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("escrow balance %d: %w", v, ErrNegativeAmount)
	}
	b.amount = v
	return nil
}
