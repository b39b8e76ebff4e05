package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"moodjournal/internal/metrics"
)

// TodayLogKey caches the user's log for the current organisation day.
func TodayLogKey(userID int64) string { return fmt.Sprintf("today_log:%d", userID) }

// UserLogsKey caches the user's full log list.
func UserLogsKey(userID int64) string { return fmt.Sprintf("user_logs:%d", userID) }

// UserKey caches the user's profile.
func UserKey(userID int64) string { return fmt.Sprintf("user:%d", userID) }

// LogKeys returns every log-derived key of a user.
func LogKeys(userID int64) []string {
	return []string{TodayLogKey(userID), UserLogsKey(userID)}
}

// Cache wraps a Store with JSON encoding, a per-operation timeout and
// best-effort semantics: failures are logged and counted, never returned.
// A nil Store disables caching.
type Cache struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Cache over store.
func New(store Store, timeout time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Cache{store: store, timeout: timeout, logger: logger}
}

func family(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// GetJSON decodes the cached value into dest and reports whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.store == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		metrics.CacheRequests.WithLabelValues(family(key), "miss").Inc()
		c.logger.Debug("cache_miss", zap.String("key", key))
		return false
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues(family(key), "error").Inc()
		metrics.CacheErrors.WithLabelValues("get").Inc()
		c.logger.Warn("cache_get_failed", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheRequests.WithLabelValues(family(key), "error").Inc()
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("cache_decode_failed", zap.String("key", key), zap.Error(err))
		c.Invalidate(ctx, key)
		return false
	}

	metrics.CacheRequests.WithLabelValues(family(key), "hit").Inc()
	c.logger.Debug("cache_hit", zap.String("key", key))
	return true
}

// SetJSON stores value under key with a TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("encode").Inc()
		c.logger.Warn("cache_encode_failed", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		c.logger.Warn("cache_set_failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate deletes keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.store == nil || len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Delete(ctx, keys...); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		c.logger.Warn("cache_invalidate_failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Ping reports backend health. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.store.Ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}
