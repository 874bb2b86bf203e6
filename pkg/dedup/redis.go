package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gw:inbox:seen:"

// RedisDeduper shares seen message ids across engine replicas.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	count, err := d.client.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return d.client.Set(ctx, keyPrefix+messageID, 1, d.ttl).Err()
}
