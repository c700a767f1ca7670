package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mailscope/mailscope/internal/config"
)

func newTestLimiter(t *testing.T, perMinute, perDay int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(rdb, config.RateLimitConfig{
		SendPerMinute: perMinute,
		SendPerDay:    perDay,
	})
	rl.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC) }
	return rl, mr
}

func TestRateLimiterAllowsUnderQuota(t *testing.T) {
	rl, _ := newTestLimiter(t, 3, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := rl.allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d blocked under quota", i+1)
		}
	}

	ok, retryAfter, err := rl.allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Error("4th request allowed over per-minute quota")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retry after = %v", retryAfter)
	}
}

func TestRateLimiterIsolatesUsers(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 100)
	ctx := context.Background()

	if ok, _, _ := rl.allow(ctx, "user-1"); !ok {
		t.Fatal("first request blocked")
	}
	if ok, _, _ := rl.allow(ctx, "user-1"); ok {
		t.Error("user-1 over quota but allowed")
	}
	if ok, _, _ := rl.allow(ctx, "user-2"); !ok {
		t.Error("user-2 blocked by user-1's quota")
	}
}

func TestRateLimiterDailyQuota(t *testing.T) {
	rl, _ := newTestLimiter(t, 100, 2)
	ctx := context.Background()

	rl.allow(ctx, "user-1")
	rl.allow(ctx, "user-1")
	ok, retryAfter, _ := rl.allow(ctx, "user-1")
	if ok {
		t.Error("request allowed over daily quota")
	}
	if retryAfter <= 0 {
		t.Errorf("retry after = %v", retryAfter)
	}
}

func TestRateLimiterFailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := newTestLimiter(t, 1, 1)
	mr.Close()

	var reached bool
	h := rl.LimitSends(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/email/send", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if !reached {
		t.Error("handler not reached with redis down; limiter must fail open")
	}
}

func TestLimitSendsMiddlewareBlocks(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 10)

	h := rl.LimitSends(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/email/send", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: code = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}
