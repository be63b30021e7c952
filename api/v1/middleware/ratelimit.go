package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"patchwatch/internal/httpx"
)

// RateLimit is a fixed-window limiter backed by Redis INCR. The window
// is one minute keyed by scope and client identity; Redis outages fail
// open so a cache hiccup never takes the API down.
func RateLimit(rdb *redis.Client, scope string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || perMinute <= 0 {
			c.Next()
			return
		}

		// Key on the client IP. Headers like X-API-ID are not
		// validated until AgentAuth runs, so a caller could rotate
		// them to reset the counter.
		identity := c.ClientIP()
		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, identity, window)

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			logrus.WithError(err).Warn("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, time.Minute)
		}

		remaining := int64(perMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(perMinute) {
			retryAfter := 60 - int(time.Now().Unix()%60)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			httpx.FailErr(c, httpx.ErrRateLimited("rate limit exceeded"))
			c.Abort()
			return
		}

		c.Next()
	}
}
