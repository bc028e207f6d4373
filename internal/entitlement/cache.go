package entitlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/keygate/internal/cache"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	redisCachePrefix = "entitlement:active_until:"
	noSubscription   = "none"
)

// Cache mirrors each user's active_until. A zero time records that the user
// has no subscription row. ok is false on a miss.
type Cache interface {
	Get(ctx context.Context, userID snowflake.ID) (activeUntil time.Time, ok bool, err error)
	Set(ctx context.Context, userID snowflake.ID, activeUntil time.Time) error
	Delete(ctx context.Context, userID snowflake.ID) error
}

type MemoryCache struct {
	items cache.Cache[snowflake.ID, time.Time]
	ttl   time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		items: cache.NewTTLCache[snowflake.ID, time.Time](),
		ttl:   ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, userID snowflake.ID) (time.Time, bool, error) {
	value, ok := c.items.Get(userID)
	return value, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, userID snowflake.ID, activeUntil time.Time) error {
	c.items.Set(userID, activeUntil, c.ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, userID snowflake.ID) error {
	c.items.Delete(userID)
	return nil
}

// RedisCache shares cached expiries between instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, userID snowflake.ID) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, redisCacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if raw == noSubscription {
		return time.Time{}, true, nil
	}
	activeUntil, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Unreadable entries behave as a miss and are rewritten on refresh.
		return time.Time{}, false, nil
	}
	return activeUntil, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID snowflake.ID, activeUntil time.Time) error {
	value := noSubscription
	if !activeUntil.IsZero() {
		value = activeUntil.UTC().Format(time.RFC3339Nano)
	}
	return c.client.Set(ctx, redisCacheKey(userID), value, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, userID snowflake.ID) error {
	return c.client.Del(ctx, redisCacheKey(userID)).Err()
}

func redisCacheKey(userID snowflake.ID) string {
	return redisCachePrefix + strconv.FormatInt(userID.Int64(), 10)
}
