package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// fastCfg keeps test retries in the millisecond range.
func fastCfg(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 || cfg.InitialDelay != 100*time.Millisecond ||
		cfg.MaxDelay != 5*time.Second || cfg.Multiplier != 2.0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.JitterFactor != 0.1 || cfg.MaxSameErrorType != 5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestDo(t *testing.T) {
	sentinel := errors.New("persistent error")

	tests := []struct {
		name      string
		cfg       *Config
		failUntil int   // fn fails while calls < failUntil
		alwaysErr error // fn always returns this when set
		wantCalls int
		wantErr   error
	}{
		{name: "first try succeeds", cfg: fastCfg(3), wantCalls: 1},
		{name: "succeeds after two failures", cfg: fastCfg(3), failUntil: 3, wantCalls: 3},
		{name: "exhausts retries and keeps the error", cfg: fastCfg(2), alwaysErr: sentinel, wantCalls: 3, wantErr: sentinel},
		{name: "nil config falls back to defaults", cfg: nil, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.cfg, func() error {
				calls++
				if tt.alwaysErr != nil {
					return tt.alwaysErr
				}
				if calls < tt.failUntil {
					return errors.New("transient error")
				}
				return nil
			})

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	calls := 0
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("still failing")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the cancel to land during the first backoff, got %d calls", calls)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("cancellation took %v, should be prompt", elapsed)
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	cfg := &Config{MaxRetries: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2.0}

	var callTimes []time.Time
	err := Do(context.Background(), cfg, func() error {
		callTimes = append(callTimes, time.Now())
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(callTimes) != 4 {
		t.Fatalf("expected 4 calls (1 + 3 retries), got %d", len(callTimes))
	}

	// The gaps should double: ~50ms, ~100ms, ~200ms. Windows are loose to
	// absorb scheduler noise.
	windows := []struct{ lo, hi time.Duration }{
		{45 * time.Millisecond, 70 * time.Millisecond},
		{90 * time.Millisecond, 130 * time.Millisecond},
		{180 * time.Millisecond, 240 * time.Millisecond},
	}
	for i, want := range windows {
		gap := callTimes[i+1].Sub(callTimes[i])
		if gap < want.lo || gap > want.hi {
			t.Errorf("gap %d = %v, want within [%v, %v]", i+1, gap, want.lo, want.hi)
		}
	}
}

func TestDo_DelayCap(t *testing.T) {
	cfg := &Config{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond, Multiplier: 2.0}

	var callTimes []time.Time
	if err := Do(context.Background(), cfg, func() error {
		callTimes = append(callTimes, time.Now())
		return errors.New("still failing")
	}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	for i := 1; i < len(callTimes); i++ {
		if gap := callTimes[i].Sub(callTimes[i-1]); gap > 200*time.Millisecond {
			t.Errorf("gap %d = %v, exceeds the 150ms cap by too much", i, gap)
		}
	}
}

func TestDoWithResult(t *testing.T) {
	t.Run("returns the value once fn succeeds", func(t *testing.T) {
		calls := 0
		result, err := DoWithResult(context.Background(), fastCfg(3), func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient error")
			}
			return 42, nil
		})
		if err != nil || result != 42 || calls != 3 {
			t.Errorf("got (%d, %v) after %d calls, want (42, nil) after 3", result, err, calls)
		}
	})

	t.Run("keeps the last result when retries run out", func(t *testing.T) {
		sentinel := errors.New("persistent error")
		calls := 0
		result, err := DoWithResult(context.Background(), fastCfg(2), func() (string, error) {
			calls++
			return "partial", sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("error = %v, want %v", err, sentinel)
		}
		if result != "partial" || calls != 3 {
			t.Errorf("got %q after %d calls, want \"partial\" after 3", result, calls)
		}
	})

	t.Run("cancel during backoff returns the last result", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		cfg := &Config{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
		result, err := DoWithResult(ctx, cfg, func() (int, error) {
			return 1, errors.New("still failing")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if result != 1 {
			t.Errorf("expected the last attempt's result, got %d", result)
		}
	})

	t.Run("nil config falls back to defaults", func(t *testing.T) {
		ok, err := DoWithResult(context.Background(), nil, func() (bool, error) {
			return true, nil
		})
		if err != nil || !ok {
			t.Errorf("got (%v, %v), want (true, nil)", ok, err)
		}
	})
}

// declaredErr implements RetryableError to pin its own classification.
type declaredErr struct {
	retryable bool
}

func (e *declaredErr) Error() string     { return "declared" }
func (e *declaredErr) IsRetryable() bool { return e.retryable }

// dialErr mimics pgconn errors raised before the statement reached the
// server, which pgconn.SafeToRetry recognizes.
type dialErr struct{}

func (dialErr) Error() string     { return "failed to connect" }
func (dialErr) SafeToRetry() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("run batch: %w", context.DeadlineExceeded), false},

		// SQLSTATE classification via structured pg errors
		{"deadlock detected", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006", Message: "connection failure"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300", Message: "too many connections"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01", Message: "terminating connection"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key value"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error"}, false},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, false},
		{"query canceled", &pgconn.PgError{Code: "57014", Message: "canceling statement"}, false},
		{"wrapped pg error", fmt.Errorf("failed to upsert match: %w", &pgconn.PgError{Code: "40P01"}), true},

		// SQLSTATE surviving only as a string
		{"stringified deadlock", errors.New("exec failed: ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"stringified unique violation", errors.New("exec failed: ERROR: duplicate key (SQLSTATE 23505)"), false},

		// network-level failures
		{"dns timeout", &net.DNSError{Err: "lookup failed", IsTimeout: true}, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"io timeout", errors.New("i/o timeout"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},

		// permanent failures
		{"auth error", errors.New("authentication failed"), false},
		{"permission denied", errors.New("permission denied"), false},
		{"validation", errors.New("validation failed: user is required"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsRetryable_DeclaredRetryability(t *testing.T) {
	if !IsRetryable(&declaredErr{retryable: true}) {
		t.Error("expected declared retryable error to be retryable")
	}
	if IsRetryable(&declaredErr{retryable: false}) {
		t.Error("expected declared permanent error to be permanent")
	}
	// Declaration survives wrapping and beats the pattern fallback.
	wrapped := fmt.Errorf("connection refused: %w", &declaredErr{retryable: false})
	if IsRetryable(wrapped) {
		t.Error("expected wrapped declared error to keep its classification")
	}
}

func TestIsRetryable_SafeToRetry(t *testing.T) {
	if !IsRetryable(dialErr{}) {
		t.Error("expected safe-to-retry error to be retryable")
	}
	if !IsRetryable(fmt.Errorf("acquire connection: %w", dialErr{})) {
		t.Error("expected wrapped safe-to-retry error to be retryable")
	}
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"pg code wins", &pgconn.PgError{Code: "08006"}, "08006"},
		{"stringified pg code", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), "40P01"},
		{"connection refused", errors.New("connection refused"), "connection"},
		{"timeout", errors.New("i/o timeout"), "timeout"},
		{"broken pipe", errors.New("write: broken pipe"), "broken_pipe"},
		{"unknown", errors.New("something odd"), "unknown"},
		{"nil", nil, "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErrorType(tt.err)
			if got != tt.expected {
				t.Errorf("classifyErrorType(%v) = %q, expected %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDoIfRetryable(t *testing.T) {
	permanent := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}

	tests := []struct {
		name      string
		cfg       *Config
		err       error // returned while calls < succeedAt, or always when succeedAt is 0
		succeedAt int
		wantCalls int
		wantErr   bool
	}{
		{name: "transient error retries to success", cfg: fastCfg(3), err: errors.New("connection timeout"), succeedAt: 3, wantCalls: 3},
		{name: "permanent error fails on first call", cfg: fastCfg(3), err: permanent, wantCalls: 1, wantErr: true},
		{name: "transient error exhausts retries", cfg: fastCfg(2), err: errors.New("connection refused"), wantCalls: 3, wantErr: true},
		{name: "nil config falls back to defaults", cfg: nil, err: nil, succeedAt: 1, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := DoIfRetryable(context.Background(), tt.cfg, func() error {
				calls++
				if tt.succeedAt > 0 && calls >= tt.succeedAt {
					return nil
				}
				return tt.err
			})

			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrors(t *testing.T) {
	cfg := fastCfg(10)
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	})

	if err == nil {
		t.Fatal("expected escalated error, got nil")
	}
	if calls != 3 {
		t.Errorf("expected escalation after 3 same-type failures, got %d calls", calls)
	}
	if got := err.Error(); !strings.Contains(got, "repeated error") {
		t.Errorf("expected escalation message, got %q", got)
	}
}

func TestDoIfRetryable_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := DoIfRetryable(ctx, cfg, func() error {
		calls++
		return errors.New("connection timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
