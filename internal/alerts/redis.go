package alerts

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper shares alert state across gateway replicas so a low balance
// fires one notification, not one per instance. Keys expire so a stuck flag
// cannot suppress alerts forever.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) key(callerID, alertType string) string {
	return "alert:" + callerID + ":" + alertType
}

func (d *RedisDeduper) MarkFired(ctx context.Context, callerID, alertType string) (bool, error) {
	return d.client.SetNX(ctx, d.key(callerID, alertType), "1", d.ttl).Result()
}

func (d *RedisDeduper) Clear(ctx context.Context, callerID string) error {
	iter := d.client.Scan(ctx, 0, "alert:"+callerID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return d.client.Del(ctx, keys...).Err()
}
