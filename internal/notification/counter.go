package notification

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter caches per-user unread counts. The worker writes them, the API
// reads them.
type Counter interface {
	Get(ctx context.Context, userID string) (n int, ok bool, err error)
	Set(ctx context.Context, userID string, n int) error
	Forget(ctx context.Context, userID string) error
}

// RedisCounter stores unread counts under prefix+userID.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter creates a counter. Entries expire after ttl so a stopped
// worker cannot leave counts stale forever.
func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounter{client: client, prefix: "portal:unread:", ttl: ttl}
}

func (c *RedisCounter) Get(ctx context.Context, userID string) (int, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *RedisCounter) Set(ctx context.Context, userID string, n int) error {
	return c.client.Set(ctx, c.prefix+userID, n, c.ttl).Err()
}

func (c *RedisCounter) Forget(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.prefix+userID).Err()
}
