package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/empiworks/empi-engine/pkg/models"
)

// BulletinPublisher fans group-change notices out to subscribers. The stored
// bulletin table is the source of truth; the feed is advisory and a failed
// publish never fails the batch.
type BulletinPublisher interface {
	Publish(ctx context.Context, b *models.Bulletin) error
}

type redisBulletinFeed struct {
	client  *redis.Client
	channel string
}

// NewRedisBulletinFeed publishes bulletins to a Redis channel as JSON.
func NewRedisBulletinFeed(client *redis.Client, channel string) BulletinPublisher {
	return &redisBulletinFeed{client: client, channel: channel}
}

var _ BulletinPublisher = (*redisBulletinFeed)(nil)

func (f *redisBulletinFeed) Publish(ctx context.Context, b *models.Bulletin) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode bulletin: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish bulletin: %w", err)
	}
	return nil
}
