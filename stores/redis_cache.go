package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/rbac"
)

// RedisCache shares cached decisions across processes through Redis
// (key: authz:decision:{key}). Decisions ride as JSON; any codec or network
// failure is treated as a miss so Redis trouble never blocks a check.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "authz:decision:"}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Get(ctx context.Context, key string) (*rbac.Decision, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	dec := &rbac.Decision{}
	if err := json.Unmarshal(raw, dec); err != nil {
		return nil, false
	}
	return dec, true
}

func (c *RedisCache) Set(ctx context.Context, key string, dec *rbac.Decision, ttl time.Duration) {
	raw, err := json.Marshal(dec)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	_ = c.client.Del(ctx, c.key(key)).Err()
}

// Clear removes every cached decision under the prefix with SCAN, never
// KEYS, so a large keyspace does not stall the server.
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}
