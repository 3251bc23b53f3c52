// Package cache holds shared implementations of the calendar read cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/resource-reservations/internal/application"
)

const defaultPrefix = "calendar"

// RedisCalendarCache stores calendars in Redis so every instance shares one
// read cache. Each resource has a version counter that is part of every data
// key; Invalidate increments it and old entries expire on their own.
//
// Redis failures are logged and treated as misses.
type RedisCalendarCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisCalendarCache wraps client. A zero ttl defaults to 30s.
func NewRedisCalendarCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisCalendarCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCalendarCache{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
		logger: logger.With("component", "calendar_cache"),
	}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", addr, err)
	}
	return client, nil
}

// Get returns the data key for the version current at call time as the slot.
// When the version cannot be read the slot is empty and nothing is stored.
func (c *RedisCalendarCache) Get(ctx context.Context, key application.CalendarKey) (application.Calendar, string, bool) {
	dataKey, err := c.dataKey(ctx, key)
	if err != nil {
		return application.Calendar{}, "", false
	}
	raw, err := c.client.Get(ctx, dataKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "calendar cache read failed", "resource_id", key.ResourceID, "error", err)
		}
		return application.Calendar{}, dataKey, false
	}
	var calendar application.Calendar
	if err := json.Unmarshal(raw, &calendar); err != nil {
		c.logger.WarnContext(ctx, "calendar cache entry is corrupt", "resource_id", key.ResourceID, "error", err)
		return application.Calendar{}, dataKey, false
	}
	return calendar, dataKey, true
}

func (c *RedisCalendarCache) Set(ctx context.Context, slot string, calendar application.Calendar) {
	if slot == "" {
		return
	}
	raw, err := json.Marshal(calendar)
	if err != nil {
		c.logger.WarnContext(ctx, "calendar cache encode failed", "resource_id", calendar.ResourceID, "error", err)
		return
	}
	if err := c.client.Set(ctx, slot, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "calendar cache write failed", "resource_id", calendar.ResourceID, "error", err)
	}
}

func (c *RedisCalendarCache) Invalidate(ctx context.Context, resourceID string) {
	if err := c.client.Incr(ctx, c.versionKey(resourceID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "calendar cache invalidation failed", "resource_id", resourceID, "error", err)
	}
}

func (c *RedisCalendarCache) versionKey(resourceID string) string {
	return fmt.Sprintf("%s:version:%s", c.prefix, resourceID)
}

func (c *RedisCalendarCache) dataKey(ctx context.Context, key application.CalendarKey) (string, error) {
	version, err := c.client.Get(ctx, c.versionKey(key.ResourceID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "calendar cache version read failed", "resource_id", key.ResourceID, "error", err)
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d:%d:%d", c.prefix, key.ResourceID, version,
		key.From.UTC().UnixMicro(), key.To.UTC().UnixMicro()), nil
}

var _ application.CalendarCache = (*RedisCalendarCache)(nil)
