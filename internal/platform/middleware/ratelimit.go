package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ems/ems/internal/platform/auth"
)

// RateLimitConfig sets the sustained rate and burst allowance applied per
// caller.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, BurstSize: 200}
}

// bucket is a classic token bucket: refilled continuously at the configured
// rate, capped at the burst size, one token spent per request.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func (b *bucket) take(rate, burst float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) secondsUntilToken(rate float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rate <= 0 {
		return 1
	}
	return int((1-b.tokens)/rate) + 1
}

// RateLimit throttles per caller: authenticated requests keyed by actor ID,
// anonymous ones by client IP. Rejections carry a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	bucketFor := func(key string) *bucket {
		mu.Lock()
		defer mu.Unlock()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{tokens: float64(cfg.BurstSize), last: time.Now()}
			buckets[key] = b
		}
		return b
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if actor := auth.ActorFromContext(c.Request().Context()); actor.ID != "" {
				key = actor.ID
			}

			b := bucketFor(key)
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !b.take(cfg.RequestsPerSecond, float64(cfg.BurstSize)) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(b.secondsUntilToken(cfg.RequestsPerSecond)))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
