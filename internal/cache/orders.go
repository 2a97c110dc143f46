// Package cache holds order snapshots in Redis for GET /orders/{id}.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/franchise/internal/domain"
)

// DefaultTTL bounds how long a snapshot may be served without a write.
const DefaultTTL = 10 * time.Minute

// putScript writes the snapshot only if it is not older than the cached
// one, so a slow writer never replaces a newer version.
var putScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// OrderCache is a version-guarded order snapshot cache.
type OrderCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewOrderCache(rdb redis.UniversalClient, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func key(orderID string) string {
	return "order:" + orderID
}

// Get returns the cached order, or nil on a miss.
func (c *OrderCache) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	data, err := c.rdb.HGet(ctx, key(orderID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		// A snapshot we cannot decode is treated as a miss and dropped.
		_ = c.rdb.Del(ctx, key(orderID)).Err()
		return nil, nil
	}
	return &o, nil
}

// Put stores o unless a newer version is already cached.
func (c *OrderCache) Put(ctx context.Context, o *domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return putScript.Run(ctx, c.rdb, []string{key(o.ID)}, o.Version, data, c.ttl.Milliseconds()).Err()
}

// Invalidate drops the snapshot.
func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, key(orderID)).Err()
}
