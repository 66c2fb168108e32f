package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/retry"
)

// NewRedisClient creates a Redis client for the bulletin feed. An empty
// host means the feed is disabled and both returns are nil.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := retry.Do(pingCtx, retry.DefaultConfig(), func() error {
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
