package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, mw echo.MiddlewareFunc, ip, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3, 100)
	mw := rl.RateLimitMiddleware()

	for i := 0; i < 3; i++ {
		rec := doRequest(t, mw, "10.0.0.1", "/api/billing/pricing")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2, 100)
	mw := rl.RateLimitMiddleware()

	doRequest(t, mw, "10.0.0.2", "/api/billing/pricing")
	doRequest(t, mw, "10.0.0.2", "/api/billing/pricing")
	rec := doRequest(t, mw, "10.0.0.2", "/api/billing/pricing")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestRateLimiter_TracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(60, 1, 100)
	mw := rl.RateLimitMiddleware()

	rec := doRequest(t, mw, "10.0.0.3", "/api/billing/pricing")
	assert.Equal(t, http.StatusOK, rec.Code)

	// A different IP gets its own bucket
	rec = doRequest(t, mw, "10.0.0.4", "/api/billing/pricing")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mw, "10.0.0.3", "/api/billing/pricing")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_TracksRoutesIndependently(t *testing.T) {
	rl := NewRateLimiter(60, 1, 100)
	mw := rl.RateLimitMiddleware()

	rec := doRequest(t, mw, "10.0.0.5", "/api/billing/pricing")
	assert.Equal(t, http.StatusOK, rec.Code)

	// exhausting one route must not lock the client out of another
	rec = doRequest(t, mw, "10.0.0.5", "/api/webhooks/stripe")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mw, "10.0.0.5", "/api/billing/pricing")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_BoundsVisitorMap(t *testing.T) {
	rl := NewRateLimiter(60, 5, 3)

	// Idle visitors with full buckets are evicted once the cap is hit.
	rl.GetLimiter("10.0.1.1|/a")
	rl.GetLimiter("10.0.1.2|/a")
	rl.GetLimiter("10.0.1.3|/a")
	rl.GetLimiter("10.0.1.4|/a")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.LessOrEqual(t, len(rl.visitors), 3)
}
