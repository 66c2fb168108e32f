// Package auth provides optional bearer-token authentication for the API.
// Tokens are HS256 JWTs signed with a shared secret; verification is off
// entirely when no secret is configured.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is unexported so no other package can collide with our keys.
type contextKey string

// ClaimsKey is where RequireAuth stores the validated claims.
const ClaimsKey contextKey = "claims"

// Claims is the token payload. Subject names the calling system; User
// optionally names the operator driving it.
type Claims struct {
	jwt.RegisteredClaims
	User string `json:"user,omitempty"`
}

// GetClaims pulls the validated claims back out of a request context.
// The second return is false when the request was not authenticated.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}
