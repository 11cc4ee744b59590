package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// ErrNegative is returned by Get when the key was marked as a known-missing
// result by SetNegative.
var ErrNegative = errors.New("cache: negative entry")

// negativeSentinel is the stored value for negative entries.
const negativeSentinel = "\x00nil"

// maxNegativeTTL bounds how long a known-missing result may be cached.
const maxNegativeTTL = 5 * time.Minute

// KV is a TTL-scoped key-value store. Implementations must be safe for
// concurrent use; writes are last-writer-wins.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNegative marks key as a known-missing result for ttl (capped at 5m).
	SetNegative(ctx context.Context, key string, ttl time.Duration) error
	// Incr atomically increments key and returns the new value. When the
	// increment creates the key, ttl is applied.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// GetJSON fetches key and unmarshals it into out.
func GetJSON(ctx context.Context, kv KV, key string, out any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal cached %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for cache %s: %w", key, err)
	}
	return kv.Set(ctx, key, string(raw), ttl)
}

// Redis is the production KV backend.
type Redis struct {
	client *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	if val == negativeSentinel {
		return "", ErrNegative
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetNegative(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 || ttl > maxNegativeTTL {
		ttl = maxNegativeTTL
	}
	return r.Set(ctx, key, negativeSentinel, ttl)
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop is the degraded-mode backend used when no KV host is configured.
// Every Get misses, Set/SetNegative/Delete succeed silently, and Incr
// reports ErrMiss so counters can fall back to an in-process path.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Get(ctx context.Context, key string) (string, error) { return "", ErrMiss }
func (n *Noop) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (n *Noop) SetNegative(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (n *Noop) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, ErrMiss
}
func (n *Noop) Delete(ctx context.Context, key string) error { return nil }
func (n *Noop) Ping(ctx context.Context) error               { return nil }
func (n *Noop) Close() error                                 { return nil }

// Connect builds the KV backend from the configured URL, falling back to
// the no-op backend when the URL is empty or the host is unreachable.
func Connect(url string, logger *slog.Logger) KV {
	if url == "" {
		logger.Warn("no KV host configured, caching disabled")
		return NewNoop()
	}
	r, err := NewRedis(url)
	if err != nil {
		logger.Warn("KV host unreachable, caching disabled", "error", err)
		return NewNoop()
	}
	return r
}
