// Package cache is a small JSON cache over Redis. A nil or unconfigured cache
// misses on every read and ignores writes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "clubhall:"

type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Cache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{redis: rdb, ttl: ttl, logger: logger}
}

// BookedDatesGenKey holds the write generation of a hall's bookings.
func BookedDatesGenKey(hallID int64) string {
	return fmt.Sprintf("booked-dates-gen:%d", hallID)
}

// BookedDatesKey is the key of a hall's booked-dates view computed at
// generation gen. A write bumps the generation, so views built before it are
// never read again and age out with the TTL.
func BookedDatesKey(hallID, gen int64) string {
	return fmt.Sprintf("booked-dates:%d:%d", hallID, gen)
}

func (c *Cache) Enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// Get decodes the cached value into out and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if !c.Enabled() {
		return false
	}
	val, err := c.redis.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, val any) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Generation returns the counter stored at key, 0 when it was never bumped.
// ok is false when the cache is disabled or Redis cannot be read.
func (c *Cache) Generation(ctx context.Context, key string) (gen int64, ok bool) {
	if !c.Enabled() {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, keyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache generation read failed")
		return 0, false
	}
	return gen, true
}

// Bump increments the counter stored at key. Counters do not expire.
func (c *Cache) Bump(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.redis.Incr(ctx, keyPrefix+key).Err()
}

// Ping checks Redis connectivity; a disabled cache is always ready.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}
