package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func requestFrom(e *echo.Echo, ip string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		c, rec := requestFrom(e, "10.0.0.1")
		if err := h(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "5" {
			t.Errorf("expected X-RateLimit-Limit 5, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		c, _ := requestFrom(e, "10.0.0.2")
		if err := h(c); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	c, rec := requestFrom(e, "10.0.0.2")
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})(okHandler)

	c, _ := requestFrom(e, "10.0.0.3")
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	c, _ = requestFrom(e, "10.0.0.4")
	if err := h(c); err != nil {
		t.Errorf("second client must have its own bucket, got %v", err)
	}
}

func TestRateLimit_Skipper(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{
		RequestsPerSecond: 0.1,
		BurstSize:         1,
		Skipper:           func(echo.Context) bool { return true },
	})(okHandler)

	for i := 0; i < 3; i++ {
		c, _ := requestFrom(e, "10.0.0.5")
		if err := h(c); err != nil {
			t.Fatalf("skipped request rate limited: %v", err)
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 10})
	h := rl.Middleware()(okHandler)

	c, _ := requestFrom(e, "10.0.0.6")
	h(c)
	rl.bucket("10.0.0.7")

	if remaining := rl.Cleanup(); remaining != 1 {
		t.Errorf("expected only the drained bucket to remain, got %d", remaining)
	}
}
