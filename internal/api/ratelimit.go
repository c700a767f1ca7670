package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/config"
	"github.com/mailscope/mailscope/internal/pkg/httputil"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

// RateLimiter enforces per-user send quotas with Redis fixed windows:
// one counter per minute and one per day. Redis being down fails open;
// losing quota enforcement is better than losing sends.
type RateLimiter struct {
	rdb       *redis.Client
	perMinute int
	perDay    int
	now       func() time.Time
}

// NewRateLimiter creates a limiter from the configured quotas.
func NewRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		rdb:       rdb,
		perMinute: cfg.SendPerMinute,
		perDay:    cfg.SendPerDay,
		now:       time.Now,
	}
}

// LimitSends is middleware for the send endpoint.
func (rl *RateLimiter) LimitSends(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFrom(r.Context())

		ok, retryAfter, err := rl.allow(r.Context(), userID)
		if err != nil {
			logger.Warn("rate limiter unavailable, failing open", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			httputil.Error(w, http.StatusTooManyRequests, "send limit reached")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow increments both window counters and reports whether either quota
// is exhausted.
func (rl *RateLimiter) allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	now := rl.now().UTC()
	minuteKey := fmt.Sprintf("ratelimit:send:min:%s:%s", userID, now.Format("200601021504"))
	dayKey := fmt.Sprintf("ratelimit:send:day:%s:%s", userID, now.Format("20060102"))

	pipe := rl.rdb.TxPipeline()
	minuteCount := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, 2*time.Minute)
	dayCount := pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 25*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if rl.perMinute > 0 && minuteCount.Val() > int64(rl.perMinute) {
		return false, time.Minute - time.Duration(now.Second())*time.Second, nil
	}
	if rl.perDay > 0 && dayCount.Val() > int64(rl.perDay) {
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		return false, midnight.Sub(now), nil
	}
	return true, 0, nil
}
