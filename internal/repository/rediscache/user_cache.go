package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserCache is the durable per-session key-value area. Keys look like
// session:<sid>:<slot>.
type UserCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewUserCache(rdb *redis.Client, ttl time.Duration) *UserCache {
	return &UserCache{rdb: rdb, ttl: ttl}
}

func userCacheKey(sessionID uuid.UUID, slot string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, slot)
}

func (c *UserCache) Get(ctx context.Context, sessionID uuid.UUID, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, userCacheKey(sessionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached %s: %w", key, err)
	}
	return raw, nil
}

func (c *UserCache) Set(ctx context.Context, sessionID uuid.UUID, key string, value []byte) error {
	if err := c.rdb.Set(ctx, userCacheKey(sessionID, key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached %s: %w", key, err)
	}
	return nil
}

func (c *UserCache) Delete(ctx context.Context, sessionID uuid.UUID, key string) error {
	if err := c.rdb.Del(ctx, userCacheKey(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("delete cached %s: %w", key, err)
	}
	return nil
}
