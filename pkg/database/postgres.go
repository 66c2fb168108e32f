package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/empiworks/empi-engine/pkg/retry"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
// Repositories take a Querier so the same code runs pooled or inside a
// transaction; nothing in the engine touches a package-level session.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// NewConnection creates a connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, url string, maxConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// Create pool with retry logic for transient failures
	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool after retries: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = retry.Do(pingCtx, retry.DefaultConfig(), func() error {
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
