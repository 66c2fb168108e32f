package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Sentinel errors returned by ValidateRequest.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService checks the credentials on an incoming request. Keeping it
// as an interface lets the middleware be tested without minting tokens.
type AuthService interface {
	// ValidateRequest extracts a bearer token from the Authorization
	// header and validates it. Returns the validated claims or an error.
	ValidateRequest(r *http.Request) (*Claims, error)
}

type authService struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthService creates a new AuthService with the given verifier and logger.
func NewAuthService(verifier TokenVerifier, logger *zap.Logger) AuthService {
	return &authService{
		verifier: verifier,
		logger:   logger,
	}
}

// ValidateRequest extracts and validates a bearer token from the request.
func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No bearer token in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, ErrMissingAuthorization
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		s.logger.Debug("Malformed Authorization header",
			zap.String("path", r.URL.Path))
		return nil, ErrInvalidAuthFormat
	}

	claims, err := s.verifier.ValidateToken(parts[1])
	if err != nil {
		s.logger.Debug("Token validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, err
	}

	return claims, nil
}

var _ AuthService = (*authService)(nil)
