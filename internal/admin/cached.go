package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/metrics"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedChecker memoizes another checker's answers in redis for ttl.
// Lookup errors are never cached.
type CachedChecker struct {
	next   Checker
	redis  RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedChecker(next Checker, client RedisClient, ttl time.Duration, logger *zap.Logger) *CachedChecker {
	return &CachedChecker{next: next, redis: client, ttl: ttl, logger: logger}
}

func cacheKey(chatID, userID int64) string {
	return fmt.Sprintf("rulebook:admin:%d:%d", chatID, userID)
}

func (c *CachedChecker) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	key := cacheKey(chatID, userID)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		metrics.RecordCacheOperation("get_admin", true)
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Failed to read cached admin status", zap.String("key", key), zap.Error(err))
	}
	metrics.RecordCacheOperation("get_admin", false)

	isAdmin, err := c.next.IsAdmin(ctx, chatID, userID)
	if err != nil {
		return false, err
	}

	value := "0"
	if isAdmin {
		value = "1"
	}
	if err := c.redis.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache admin status", zap.String("key", key), zap.Error(err))
	}
	return isAdmin, nil
}
