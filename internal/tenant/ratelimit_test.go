package tenant

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(cache.NewMemory(), slog.Default())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := rl.Allow(ctx, "key-1", 10)
		assert.True(t, res.Allowed, "request %d should pass", i)
		assert.Equal(t, 10, res.Limit)
	}
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(cache.NewMemory(), slog.Default())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rl.Allow(ctx, "key-1", 10)
	}
	res := rl.Allow(ctx, "key-1", 10)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(cache.NewMemory(), slog.Default())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rl.Allow(ctx, "busy", 10)
	}
	assert.False(t, rl.Allow(ctx, "busy", 10).Allowed)
	assert.True(t, rl.Allow(ctx, "quiet", 10).Allowed)
}

func TestRateLimiter_RemainingCountsDown(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(cache.NewMemory(), slog.Default())
	ctx := context.Background()

	res := rl.Allow(ctx, "key-1", 5)
	assert.Equal(t, 4, res.Remaining)
	res = rl.Allow(ctx, "key-1", 5)
	assert.Equal(t, 3, res.Remaining)
}

func TestRateLimiter_FallsBackWhenKVUnavailable(t *testing.T) {
	t.Parallel()

	// The no-op KV reports a miss on Incr: the in-process table takes over.
	rl := NewRateLimiter(cache.NewNoop(), slog.Default())
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 15; i++ {
		if rl.Allow(ctx, "key-1", 10).Allowed {
			allowed++
		}
	}
	// Burst capacity equals the per-minute limit.
	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_FallbackTableIsBounded(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(cache.NewNoop(), slog.Default())
	ctx := context.Background()

	for i := 0; i < limiterTableCapacity+100; i++ {
		rl.Allow(ctx, string(rune(i))+"-key", 10)
	}
	assert.LessOrEqual(t, rl.fallback.Len(), limiterTableCapacity)
}
