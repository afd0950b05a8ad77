package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/behzadon/rulebook/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	DefaultApplyLimit  = 10
	DefaultApplyWindow = time.Minute
)

// RateLimiter is a fixed-window counter per token subject, chat and path.
// A nil redis client disables it.
type RateLimiter struct {
	redis  RedisClient
	limit  int64
	window time.Duration
	logger *zap.Logger
}

func NewRateLimiter(redis RedisClient, limit int64, window time.Duration, logger *zap.Logger) *RateLimiter {
	if limit <= 0 {
		limit = DefaultApplyLimit
	}
	if window <= 0 {
		window = DefaultApplyWindow
	}
	return &RateLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.redis == nil {
			c.Next()
			return
		}

		key := "rulebook:rate_limit:" + c.GetString(auth.SubjectKey) + ":" + c.Param("chat_id") + ":" + c.FullPath()
		ctx := c.Request.Context()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open.
			rl.logger.Error("failed to increment rate limit",
				zap.Error(err),
				zap.String("key", key),
			)
			c.Next()
			return
		}

		if count == 1 {
			if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
				rl.logger.Error("failed to set rate limit expiry",
					zap.Error(err),
					zap.String("key", key),
				)
			}
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
