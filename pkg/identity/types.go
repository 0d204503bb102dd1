// Package identity defines the caller identity used by the marketplace.
//
// Every call into the marketplace is made on behalf of an Address. The
// transport layer is responsible for proving the address (see pkg/auth);
// everything below it trusts the value it is handed.
package identity

import (
	"context"
	"errors"
	"strings"
)

// Address identifies a participant: a contractor, a bidder or a worker.
type Address string

// None is the zero Address. No authenticated caller ever carries it.
const None Address = ""

// IsZero reports whether a is unset.
func (a Address) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

func (a Address) String() string {
	return string(a)
}

// ErrNoCaller is returned when a context carries no authenticated address.
var ErrNoCaller = errors.New("no caller address in context")

type contextKey string

const callerKey contextKey = "caller"

// WithCaller attaches an authenticated caller address to the context.
func WithCaller(ctx context.Context, a Address) context.Context {
	return context.WithValue(ctx, callerKey, a)
}

// CallerFrom retrieves the caller address from the context.
func CallerFrom(ctx context.Context) (Address, error) {
	a, ok := ctx.Value(callerKey).(Address)
	if !ok || a.IsZero() {
		return None, ErrNoCaller
	}
	return a, nil
}
