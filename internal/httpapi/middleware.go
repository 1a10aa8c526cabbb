package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"marketcall/internal/audit"
	"marketcall/internal/auth"
	"marketcall/pkg/logger"
	"marketcall/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ClientIP puts the resolved client address on the request context for audit.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// RateLimit caps requests per user (or client IP before auth) in a fixed window.
// Redis failures fail open.
func RateLimit(rdb *redis.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}
		who := c.ClientIP()
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			who = uid
		}
		d, err := utils.AllowRate(c.Request.Context(), rdb, "ratelimit:"+scope+":"+who, limit, window)
		if err != nil {
			logger.FromGin(c).Warn("rate limit check failed", "scope", scope, "err", err)
			c.Next()
			return
		}
		if !d.Allowed {
			c.Header("Retry-After", formatSeconds(d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

// formatSeconds rounds up to whole seconds, at least one.
func formatSeconds(d time.Duration) string {
	return strconv.Itoa(max(int((d+time.Second-1)/time.Second), 1))
}
