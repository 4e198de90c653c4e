package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"portico/internal/infrastructure/config"
	"portico/internal/infrastructure/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware limits gateway traffic, first against a shared global
// window and then per client IP. Limiter errors fail open: a broken Redis
// must not take the gateway down with it.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.RateLimitGlobalRPM > 0 {
			global, err := limiter.Allow(c.Request.Context(), "ratelimit:global", cfg.RateLimitGlobalRPM)
			if err == nil && !global.Allowed {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":   "rate_limit_exceeded",
					"message": "gateway is at capacity, please try again later",
				})
				return
			}
		}

		key := fmt.Sprintf("ratelimit:ip:%s", c.ClientIP())

		result, err := limiter.Allow(c.Request.Context(), key, cfg.RateLimitIPRPM)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "too many requests, please try again later",
			})
			return
		}

		c.Next()
	}
}
