package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter holds per-client token buckets keyed by client IP and route,
// so a noisy caller on one endpoint cannot starve its other endpoints.
type RateLimiter struct {
	visitors   map[string]*rate.Limiter
	mu         sync.Mutex
	r          rate.Limit // requests per second
	b          int        // burst
	maxEntries int
}

// NewRateLimiter creates a new rate limiter. maxEntries bounds the visitor
// map so a scan over many source IPs cannot grow it without limit.
func NewRateLimiter(requestsPerMinute, burst, maxEntries int) *RateLimiter {
	// Convert requests per minute to requests per second
	rps := float64(requestsPerMinute) / 60.0

	rl := &RateLimiter{
		visitors:   make(map[string]*rate.Limiter),
		r:          rate.Limit(rps),
		b:          burst,
		maxEntries: maxEntries,
	}

	// Clean up old visitors every 3 minutes
	go rl.cleanupVisitors()

	return rl
}

// GetLimiter returns the rate limiter for the given visitor key.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.visitors[key]
	if !exists {
		if rl.maxEntries > 0 && len(rl.visitors) >= rl.maxEntries {
			rl.evictIdleLocked()
		}
		limiter = rate.NewLimiter(rl.r, rl.b)
		rl.visitors[key] = limiter
	}

	return limiter
}

// evictIdleLocked drops visitors whose buckets are full (no recent requests).
// Caller holds the mutex.
func (rl *RateLimiter) evictIdleLocked() {
	for key, limiter := range rl.visitors {
		if limiter.Tokens() >= float64(rl.b) {
			delete(rl.visitors, key)
		}
	}
}

// cleanupVisitors removes inactive visitors every 3 minutes.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(3 * time.Minute)

		rl.mu.Lock()
		rl.evictIdleLocked()
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware creates an Echo middleware for rate limiting.
func (rl *RateLimiter) RateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = c.Request().RemoteAddr
			}

			if !rl.GetLimiter(ip + "|" + c.Path()).Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests. Please try again later.",
				})
			}

			return next(c)
		}
	}
}
