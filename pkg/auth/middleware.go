package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// Middleware guards endpoint routes. Token checking lives in AuthService;
// this layer only translates the verdict into a 401 or a claims-bearing
// context.
type Middleware struct {
	authService AuthService
}

// NewMiddleware wraps the given AuthService.
func NewMiddleware(authService AuthService) *Middleware {
	return &Middleware{authService: authService}
}

// RequireAuth rejects requests without a valid bearer token. On success the
// claims ride the request context under ClaimsKey.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// unauthorized writes the plain 401 body. Auth failures happen before the
// couplings dispatch, so they do not wear the action envelope.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	body := map[string]string{
		"error":   "unauthorized",
		"message": message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(body)
}
