package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (l *countingLimiter) RateLimitCheck(_ context.Context, key string, maxRequests int64, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.counts[key]++
	return l.counts[key] <= maxRequests, nil
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int64{}}
	r := newEngine(RateLimitMiddleware(limiter, 2, time.Minute, zap.NewNop()))

	for i := 0; i < 2; i++ {
		if w := do(r, "/ping", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if w := do(r, "/ping", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", w.Code)
	}
	// A different caller has its own window.
	if w := do(r, "/ping", map[string]string{"Authorization": "Bearer abc"}); w.Code != http.StatusOK {
		t.Errorf("token caller: status = %d, want 200", w.Code)
	}
	for key := range limiter.counts {
		if key == "abc" || key == "tok:abc" {
			t.Errorf("raw token leaked into limiter key %q", key)
		}
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	r := newEngine(RateLimitMiddleware(limiter, 1, time.Minute, zap.NewNop()))
	for i := 0; i < 3; i++ {
		if w := do(r, "/ping", nil); w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 when limiter errors", w.Code)
		}
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	r := newEngine(AdminAuthMiddleware("secret"))

	if w := do(r, "/ping", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", w.Code)
	}
	if w := do(r, "/ping", map[string]string{"X-Admin-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
	if w := do(r, "/ping", map[string]string{"X-Admin-Key": "secret"}); w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", w.Code)
	}
}

func TestAdminAuthMiddleware_Unconfigured(t *testing.T) {
	r := newEngine(AdminAuthMiddleware(""))
	if w := do(r, "/ping", map[string]string{"X-Admin-Key": ""}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newEngine(RecoveryMiddleware(zap.NewNop()), LoggingMiddleware(zap.NewNop()))
	if w := do(r, "/panic", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := newEngine(CORSMiddleware([]string{"https://app.example.com"}))
	w := do(r, "/ping", map[string]string{"Origin": "https://app.example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	w = do(r, "/ping", map[string]string{"Origin": "https://evil.example.com"})
	if w.Code != http.StatusForbidden {
		t.Errorf("disallowed origin: status = %d, want 403", w.Code)
	}
}
