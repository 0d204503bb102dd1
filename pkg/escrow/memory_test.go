package escrow

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

const (
	alice identity.Address = "alice"
	bob   identity.Address = "bob"
)

// exerciseCustody runs the shared behaviour checks against any backend.
func exerciseCustody(t *testing.T, c Custody) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, c.Deposit(ctx, alice, 200))
	require.NoError(t, c.Hold(ctx, alice, 150))

	bal, err := c.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
	held, err := c.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), held)

	err = c.Hold(ctx, alice, 51)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, c.Release(ctx, bob, 150))
	bal, err = c.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal)
	held, err = c.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)

	require.ErrorIs(t, c.Release(ctx, bob, 1), ErrInsufficientBalance)
	require.ErrorIs(t, c.Deposit(ctx, alice, -1), ErrNegativeAmount)
	require.ErrorIs(t, c.Deposit(ctx, identity.None, 1), identity.ErrNoCaller)

	bal, err = c.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	exerciseOverflow(t, c)
}

// exerciseOverflow checks that no credit wraps past int64 and that a
// rejected transfer moves nothing.
func exerciseOverflow(t *testing.T, c Custody) {
	t.Helper()
	ctx := context.Background()
	const rich, payer, late identity.Address = "rich", "payer", "late"

	require.NoError(t, c.Deposit(ctx, rich, math.MaxInt64))
	require.ErrorIs(t, c.Deposit(ctx, rich, 2), ErrOverflow)
	bal, err := c.Balance(ctx, rich)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), bal)

	require.NoError(t, c.Deposit(ctx, payer, 5))
	require.NoError(t, c.Hold(ctx, payer, 5))
	require.ErrorIs(t, c.Release(ctx, rich, 5), ErrOverflow)
	held, err := c.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), held)
	require.NoError(t, c.Release(ctx, payer, 5))

	require.NoError(t, c.Hold(ctx, rich, math.MaxInt64))
	require.NoError(t, c.Deposit(ctx, late, 1))
	require.ErrorIs(t, c.Hold(ctx, late, 1), ErrOverflow)
	bal, err = c.Balance(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal)
	held, err = c.Held(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), held)
}

func TestMemoryVault(t *testing.T) {
	exerciseCustody(t, NewMemoryVault())
}

func TestMemoryVaultConcurrentHolds(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	require.NoError(t, v.Deposit(ctx, alice, 100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Hold(ctx, alice, 10) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	held, _ := v.Held(ctx)
	assert.Equal(t, int64(100), held)
}

// Property: funds are conserved across any sequence of holds and releases.
func TestMemoryVaultConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("accounts plus pool equals deposits", prop.ForAll(
		func(deposit int64, moves []int64) bool {
			ctx := context.Background()
			v := NewMemoryVault()
			if err := v.Deposit(ctx, alice, deposit); err != nil {
				return false
			}
			for i, m := range moves {
				if i%2 == 0 {
					_ = v.Hold(ctx, alice, m)
				} else {
					_ = v.Release(ctx, bob, m)
				}
			}
			a, _ := v.Balance(ctx, alice)
			b, _ := v.Balance(ctx, bob)
			h, _ := v.Held(ctx)
			return a >= 0 && b >= 0 && h >= 0 && a+b+h == deposit
		},
		gen.Int64Range(0, 10_000),
		gen.SliceOf(gen.Int64Range(0, 5_000)),
	))

	properties.TestingRun(t)
}
