package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, default 0.1 for +/-10% jitter to prevent thundering herd
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (default: 5)
}

// DefaultConfig returns sensible defaults for database operations
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// applyJitter adds random jitter to a delay to prevent thundering herd.
// Jitter is calculated as: delay +/- (delay * jitterFactor * random(-1 to +1))
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do executes fn with exponential backoff retry logic.
// Returns nil on success, or the last error after all retries are exhausted.
// Respects context cancellation during wait periods.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(applyJitter(delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// DoWithResult executes fn and returns both result and error.
// Useful for functions that return values (like pgxpool.NewWithConfig).
// Respects context cancellation during wait periods.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}

		lastErr = err
		result = r // Keep last result even on error

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(applyJitter(delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	return result, lastErr
}

// RetryableError is an interface for errors that explicitly declare their
// retryability. An error implementing it overrides all other classification.
type RetryableError interface {
	error
	IsRetryable() bool
}

// sqlStateRegex matches PostgreSQL SQLSTATE codes carried in error strings
// like "(SQLSTATE 40P01)". Wrapped errors keep the structured *pgconn.PgError
// in their chain, but errors that crossed a string boundary only keep this.
var sqlStateRegex = regexp.MustCompile(`\(SQLSTATE ([0-9A-Z]{5})\)`)

// IsRetryable determines if an error is transient and worth retrying.
// This prevents wasting retries on permanent failures (constraint violations,
// bad SQL, validation errors).
//
// The function checks errors in this order:
//  1. Context cancellation and deadline expiry are never retryable.
//  2. If the error implements RetryableError, use its IsRetryable() method.
//  3. pgconn.SafeToRetry: the statement never reached the server.
//  4. PostgreSQL SQLSTATE classification (connection loss, deadlock,
//     serialization failure, resource exhaustion, server shutdown).
//  5. Network timeouts and known transient dial failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var declared RetryableError
	if errors.As(err, &declared) {
		return declared.IsRetryable()
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	if code, ok := sqlState(err); ok {
		return isSQLStateTransient(code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Dial and pool failures often surface as plain strings.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"connection timed out",
		"timed out",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"too many connections",
		"unexpected eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// sqlState extracts the SQLSTATE code from an error, preferring the
// structured *pgconn.PgError over the string form.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	if matches := sqlStateRegex.FindStringSubmatch(err.Error()); len(matches) >= 2 {
		return matches[1], true
	}
	return "", false
}

// isSQLStateTransient reports whether a SQLSTATE code names a failure that
// can succeed on a clean retry. Everything else (syntax, constraint,
// permission) is permanent: retrying a unique violation stays a violation.
func isSQLStateTransient(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03": // cannot_connect_now
		return true
	}
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", // connection exception
		"53": // insufficient resources
		return true
	}
	return false
}

// classifyErrorType extracts a category from an error for comparison.
// Used to detect repeated failures of the same kind: a SQLSTATE code when one
// is present, otherwise a coarse network bucket.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	if code, ok := sqlState(err); ok {
		return code
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return "connection"
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out") {
		return "timeout"
	}
	if strings.Contains(errStr, "broken pipe") {
		return "broken_pipe"
	}

	return "unknown"
}

// DoIfRetryable only retries if the error is transient.
// For permanent errors (bad SQL, constraint violations) it returns immediately.
// After N consecutive failures of the same error type it escalates to a
// permanent failure, so a database that is down stays a crisp error instead of
// a slow one. Respects context cancellation during wait periods.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(applyJitter(delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}
