package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
)

const (
	limiterTableCapacity = 1000
	limiterTableTTL      = time.Hour
)

// RateLimitResult reports one admission decision plus the header material
// every response carries.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter enforces a per-key budget per minute. The KV store counts
// requests in fixed windows aligned to the wall-clock minute; the count
// resets at each minute boundary and does not slide. The KV store is the
// source of truth so multiple instances share the window; when it is
// unreachable the limiter degrades to an in-process token-bucket table
// bounded by an LRU so one noisy tenant cannot grow server memory.
type RateLimiter struct {
	kv       cache.KV
	fallback *cache.LRU[string, *rate.Limiter]
	nowFn    func() time.Time
	logger   *slog.Logger
}

func NewRateLimiter(kv cache.KV, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		kv:       kv,
		fallback: cache.NewLRU[string, *rate.Limiter](limiterTableCapacity, limiterTableTTL),
		nowFn:    time.Now,
		logger:   logger.With("component", "ratelimit"),
	}
}

// Allow admits or rejects one request for the key at limitPerMinute.
func (l *RateLimiter) Allow(ctx context.Context, keyID string, limitPerMinute int) RateLimitResult {
	now := l.nowFn()
	windowStart := now.Truncate(time.Minute)
	resetAt := windowStart.Add(time.Minute)

	kvKey := fmt.Sprintf("rl:%s:%d", keyID, windowStart.Unix())
	count, err := l.kv.Incr(ctx, kvKey, time.Minute+10*time.Second)
	if err != nil {
		return l.allowFallback(keyID, limitPerMinute, resetAt)
	}

	remaining := int64(limitPerMinute) - count
	if remaining < 0 {
		remaining = 0
	}
	res := RateLimitResult{
		Allowed:   count <= int64(limitPerMinute),
		Limit:     limitPerMinute,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		metrics.RateLimitRejectionsTotal.Inc()
	}
	return res
}

// allowFallback serves decisions from the in-process table while the KV
// store is down. Token buckets with a one-minute burst approximate the
// per-minute budget.
func (l *RateLimiter) allowFallback(keyID string, limitPerMinute int, resetAt time.Time) RateLimitResult {
	limiter, ok := l.fallback.Get(keyID)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(limitPerMinute)/60.0), limitPerMinute)
		l.fallback.Put(keyID, limiter)
	}

	res := RateLimitResult{
		Allowed:   limiter.Allow(),
		Limit:     limitPerMinute,
		Remaining: int(limiter.Tokens()),
		ResetAt:   resetAt,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Minute / time.Duration(max(limitPerMinute, 1))
		metrics.RateLimitRejectionsTotal.Inc()
	}
	return res
}
