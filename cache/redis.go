package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatsync:history:"

// RedisCache is a HistoryCache shared between client processes.
// Every scope keeps the set of its page keys to be invalidated at once.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// Get implements the HistoryCache interface.
func (c *RedisCache) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, c.pageKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET: %w", err)
	}

	return raw, true, nil
}

// Set implements the HistoryCache interface.
func (c *RedisCache) Set(ctx context.Context, scope, key string, raw []byte) error {
	pageKey, scopeKey := c.pageKey(scope, key), c.scopeKey(scope)

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, pageKey, raw, c.ttl)
	pipe.SAdd(ctx, scopeKey, pageKey)
	if c.ttl > 0 {
		pipe.Expire(ctx, scopeKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}

	return nil
}

// Invalidate implements the HistoryCache interface.
func (c *RedisCache) Invalidate(ctx context.Context, scope string) error {
	scopeKey := c.scopeKey(scope)

	pageKeys, err := c.rdb.SMembers(ctx, scopeKey).Result()
	if err != nil {
		return fmt.Errorf("redis SMEMBERS: %w", err)
	}

	if err := c.rdb.Del(ctx, append(pageKeys, scopeKey)...).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}

	return nil
}

func (c *RedisCache) pageKey(scope, key string) string {
	return redisKeyPrefix + scope + ":" + key
}

func (c *RedisCache) scopeKey(scope string) string {
	return redisKeyPrefix + scope
}

// NewRedisCache creates a new RedisCache object, zero ttl means no expiration.
func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) (*RedisCache, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%s: nil", "rdb")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "ttl")
	}

	return &RedisCache{
		rdb: rdb,
		ttl: ttl,
	}, nil
}
