package middleware

import (
	"context"
	"fmt"
	"time"

	"taskoracle/internal/common/cache"
	pkgerrors "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimiter enforces fixed-window counters stored in the cache.
type RateLimiter struct {
	counter cache.WindowCounter
	window  time.Duration
	timeout time.Duration
	prefix  string
}

func NewRateLimiter(counter cache.WindowCounter, window, timeout time.Duration, prefix string) *RateLimiter {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	if prefix == "" {
		prefix = "oracle:rate"
	}
	return &RateLimiter{counter: counter, window: window, timeout: timeout, prefix: prefix}
}

// Allow counts one hit on key and fails with TooManyRequests once max is passed.
func (r *RateLimiter) Allow(ctx context.Context, key string, max int) error {
	if max <= 0 {
		return nil
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	count, err := r.counter.IncrWindow(ctxCache, r.prefix+":"+key, r.window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if count > int64(max) {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware limits requests per client IP on one route.
// A nil limiter or non-positive max disables the check. Cache failures fail open.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, ipMax int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || ipMax <= 0 {
			c.Next()
			return
		}
		key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey)
		if err := limiter.Allow(c.Request.Context(), key, ipMax); err != nil {
			if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
