// Package testhelpers provides shared fixtures for integration tests.
package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignTestToken creates an HS256 token the API middleware accepts when auth
// is enabled with the same secret.
func SignTestToken(secret, user string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": user,
		"aud": "empi",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// BearerTestToken returns the signed token with the "Bearer " prefix for an
// Authorization header.
func BearerTestToken(secret, user string) (string, error) {
	token, err := SignTestToken(secret, user)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}
