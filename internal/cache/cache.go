package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a small redis-backed response cache shared by all API instances.
// Invalidation is by namespace generation: mutations bump a counter that is
// part of every key, so stale entries just age out.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{rdb: rdb, ttl: ttl}
}

// Key builds a generation-scoped key. Redis being down degrades to a miss,
// never an error surfaced to the request path.
func (c *Cache) Key(ctx context.Context, namespace, suffix string) string {
	gen, err := c.rdb.Get(ctx, "cachegen:"+namespace).Int64()

	if err != nil && !errors.Is(err, redis.Nil) {
		gen = -1 // unknown generation, key will simply never hit
	}

	return fmt.Sprintf("%s:v%d:%s", namespace, gen, suffix)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, key).Bytes()

	if err != nil {
		return nil, false
	}

	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, val []byte) {
	// best effort; a failed write is just a future miss
	_ = c.rdb.Set(ctx, key, val, c.ttl).Err()
}

// Invalidate bumps the namespace generation so existing entries stop
// matching.
func (c *Cache) Invalidate(ctx context.Context, namespace string) {
	_ = c.rdb.Incr(ctx, "cachegen:"+namespace).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
