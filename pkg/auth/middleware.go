// Package auth proves caller addresses at the HTTP edge.
//
// Callers present an EdDSA bearer token whose subject is their marketplace
// address. The middleware verifies it and stores the address in the request
// context via identity.WithCaller; nothing downstream re-checks it.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/buildmarket/pkg/api"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

// Issuer is stamped into every caller token.
const Issuer = "buildmarket"

// Claims are the JWT claims of a caller token. Subject is the address.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTValidator validates caller tokens against a KeySet.
type JWTValidator struct {
	KeySet *KeySet
}

func NewJWTValidator(ks *KeySet) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks}
}

// Validate parses and validates a JWT token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc(),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IssueToken signs a caller token for addr valid for ttl.
func IssueToken(ctx context.Context, ks *KeySet, addr identity.Address, ttl time.Duration, now time.Time) (string, error) {
	if addr.IsZero() {
		return "", identity.ErrNoCaller
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return ks.Sign(ctx, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   addr.String(),
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}})
}

var publicPaths = []string{
	"/health",
	"/v1/health",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}
			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			addr := identity.Address(claims.Subject)
			if addr.IsZero() {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), addr)))
		})
	}
}
