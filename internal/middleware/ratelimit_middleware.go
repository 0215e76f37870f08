package middleware

import (
	"context"
	"net/http"
	"strconv"

	"parley/internal/redis"
	"parley/internal/transport/httpdto"
	"parley/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ParticipationLimiter is implemented by redis.RateLimiter.
type ParticipationLimiter interface {
	AllowParticipation(ctx context.Context, ip string) (*redis.RateLimitResult, error)
}

// RateLimitMiddleware caps identity resolution attempts per client IP. When
// Redis is unreachable requests are let through.
func RateLimitMiddleware(limiter ParticipationLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.AllowParticipation(c.Request.Context(), c.ClientIP())
		if err != nil {
			if l != nil {
				l.With(c.Request.Context()).Warnf("participation rate limit unavailable: %v", err)
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
