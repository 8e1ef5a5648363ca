package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int64
	// Skipper exempts requests, e.g. health checks.
	Skipper func(c echo.Context) bool
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	cfg     RateLimitConfig
	clients map[string]*ratelimit.Bucket
	mu      sync.RWMutex
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultRateLimitConfig().BurstSize
	}
	return &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*ratelimit.Bucket),
	}
}

func (rl *RateLimiter) bucket(clientIP string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.clients[clientIP]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.clients[clientIP]; !ok {
		b = ratelimit.NewBucketWithRate(rl.cfg.RequestsPerSecond, rl.cfg.BurstSize)
		rl.clients[clientIP] = b
	}
	return b
}

// Cleanup drops buckets that have refilled completely and returns how many
// remain.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.clients {
		if b.Available() >= b.Capacity() {
			delete(rl.clients, ip)
		}
	}
	return len(rl.clients)
}

// Middleware rejects requests with 429 once the client's bucket is empty.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	limit := strconv.FormatInt(rl.cfg.BurstSize, 10)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rl.cfg.Skipper != nil && rl.cfg.Skipper(c) {
				return next(c)
			}
			b := rl.bucket(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if b.TakeAvailable(1) < 1 {
				retry := 1
				if r := b.Rate(); r > 0 && r < 1 {
					retry = int(math.Ceil(1 / r))
				}
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
			return next(c)
		}
	}
}

// RateLimit is a convenience wrapper for NewRateLimiter(cfg).Middleware().
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return NewRateLimiter(cfg).Middleware()
}
