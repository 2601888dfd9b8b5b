package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dashboard entries in a shared Redis.
const DefaultRedisPrefix = "sts:dashboard:"

// redisEntry represents a cached value with metadata
type redisEntry struct {
	Value     json.RawMessage `json:"value"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RedisStore implements Store using Redis
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	stats  statsCounter
	logger OperationLogger
}

// NewRedisStore creates a new Redis-based store
func NewRedisStore(redisClient *redis.Client, ttl time.Duration, logger OperationLogger) *RedisStore {
	return &RedisStore{
		redis:  redisClient,
		ttl:    ttl,
		prefix: DefaultRedisPrefix,
		logger: logger,
	}
}

// Get retrieves a value from Redis. Redis errors count as misses.
func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	data, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		c.stats.miss()
		c.log("get", key, false, start)
		return nil, false
	}

	// Deserialize cached entry
	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.stats.miss()
		c.log("get", key, false, start)
		return nil, false
	}

	c.stats.hit()
	c.log("get", key, true, start)
	return entry.Value, true
}

// Set stores a value in Redis with the store TTL. value must be valid JSON.
func (c *RedisStore) Set(ctx context.Context, key string, value []byte) {
	start := time.Now()
	now := time.Now().UTC()
	entry := redisEntry{
		Value:     json.RawMessage(value),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.log("set_error", key, false, start)
		return
	}

	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.log("set_error", key, false, start)
		return
	}

	c.stats.set()
	c.log("set", key, false, start)
}

// DeletePrefix removes all keys under prefix using SCAN
func (c *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := c.prefix + prefix + "*"

	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	return nil
}

// Stats returns current cache statistics
func (c *RedisStore) Stats() Stats {
	return c.stats.snapshot()
}

func (c *RedisStore) log(op, key string, hit bool, start time.Time) {
	if c.logger != nil {
		c.logger.LogCacheOperation(op, key, hit, time.Since(start).Milliseconds())
	}
}
