package middleware

import (
	"net/http"
	"strconv"

	"dashboard-backend/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware applies the limiter per client IP and endpoint
// class. A limiter failure lets the request through rather than
// blocking traffic.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, resetTime, err := limiter.Allow(c.ClientIP(), endpoint)
		if err != nil {
			c.Header("X-RateLimit-Error", "Rate limiter unavailable")
			c.Next()
			return
		}

		limit := limiter.Limit(endpoint)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.RequestsPerMinute))

		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(resetTime.Unix(), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
