package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallerRoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), Address("0xabc"))

	got, err := CallerFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, Address("0xabc"), got)
}

func TestCallerMissing(t *testing.T) {
	_, err := CallerFrom(context.Background())
	assert.ErrorIs(t, err, ErrNoCaller)

	_, err = CallerFrom(WithCaller(context.Background(), "  "))
	assert.ErrorIs(t, err, ErrNoCaller)
}

func TestAddressIsZero(t *testing.T) {
	assert.True(t, None.IsZero())
	assert.False(t, Address("w").IsZero())
}
