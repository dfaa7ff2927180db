package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"chatcipher/internal/model"
	redisSvc "chatcipher/internal/service/redis"
)

// Cache is the local, lower-trust mirror of published bundle
// collections. It must tolerate being empty or stale; the remote
// service stays authoritative.
type Cache interface {
	// Read returns (nil, nil) when no entry exists for userID.
	Read(ctx context.Context, userID string) (*model.BundleCollection, error)
	Write(ctx context.Context, userID string, c *model.BundleCollection) error
}

type RedisCache struct {
	redis *redisSvc.RedisService
	ttl   time.Duration
}

func NewRedisCache(redis *redisSvc.RedisService, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: redis, ttl: ttl}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("bundles:%s", userID)
}

func (c *RedisCache) Read(ctx context.Context, userID string) (*model.BundleCollection, error) {
	v, ok, err := c.redis.Get(ctx, cacheKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read bundle cache: %w", err)
	}
	if !ok {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("read bundle cache: %w", err)
	}
	return model.DecodeBundleCollection(raw)
}

func (c *RedisCache) Write(ctx context.Context, userID string, col *model.BundleCollection) error {
	raw, err := col.Encode()
	if err != nil {
		return fmt.Errorf("write bundle cache: %w", err)
	}
	return c.redis.Set(ctx, cacheKey(userID), base64.StdEncoding.EncodeToString(raw), c.ttl)
}
