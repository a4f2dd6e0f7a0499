package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/tenant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TenantCache is a read-through cache in front of another tenant
// directory. Redis failures are logged and the lookup goes to the backing
// directory; a cache outage never fails tenant resolution.
type TenantCache struct {
	rdb    *redis.Client
	next   tenant.Directory
	ttl    time.Duration
	logger *zap.Logger
}

func NewTenantCache(rdb *redis.Client, next tenant.Directory, ttl time.Duration, logger *zap.Logger) *TenantCache {
	return &TenantCache{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

func tenantCacheKey(subdomain string) string {
	return "tenant:" + subdomain
}

func (c *TenantCache) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	key := tenantCacheKey(subdomain)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t models.Tenant
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return &t, nil
		}
		c.logger.Warn("dropping undecodable cached tenant", zap.String("subdomain", subdomain))
		c.rdb.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("tenant cache read failed", zap.String("subdomain", subdomain), zap.Error(err))
	}

	t, err := c.next.GetBySubdomain(ctx, subdomain)
	if err != nil || t == nil {
		return t, err
	}

	if raw, err := json.Marshal(t); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("tenant cache write failed", zap.String("subdomain", subdomain), zap.Error(err))
		}
	}
	return t, nil
}

// Invalidate drops a cached tenant so the next lookup reads through.
func (c *TenantCache) Invalidate(ctx context.Context, subdomain string) error {
	return c.rdb.Del(ctx, tenantCacheKey(subdomain)).Err()
}
