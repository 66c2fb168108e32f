package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates a bearer token string and returns its claims.
type TokenVerifier interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// HMACVerifier validates HS256 tokens signed with the shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// ValidateToken parses and verifies an HS256 token. Any other signing
// method is rejected, including unsigned tokens.
func (v *HMACVerifier) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// Ensure HMACVerifier implements TokenVerifier at compile time.
var _ TokenVerifier = (*HMACVerifier)(nil)
