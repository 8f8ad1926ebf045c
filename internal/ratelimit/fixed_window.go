package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Limiter is a per-key fixed window quota.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// FixedWindowLimiter limits requests per key in a fixed time window backed by Redis.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
	now         func() time.Time
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "photoyarn:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
		now:         time.Now,
	}, nil
}

// Allow counts one hit for key. On Redis failures it fails closed and
// returns the error.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	slot, resetAt := windowSlot(l.now(), l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, normalizeKey(key), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, l.window.Milliseconds()).Int64()
	if err != nil {
		return Decision{ResetAt: resetAt}, fmt.Errorf("rate limit check: %w", err)
	}
	return decide(count, l.limit, resetAt), nil
}

// Close releases the Redis connection pool.
func (l *FixedWindowLimiter) Close() error {
	return l.redisClient.Close()
}

// MemoryFixedWindowLimiter keeps counters in-process. Suitable for a single
// replica without Redis.
type MemoryFixedWindowLimiter struct {
	limit    int
	window   time.Duration
	mu       sync.Mutex
	counters *cache.Cache
	now      func() time.Time
}

// NewMemoryFixedWindowLimiter creates an in-process limiter.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*MemoryFixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindowLimiter{
		limit:    limit,
		window:   window,
		counters: cache.New(window, window),
		now:      time.Now,
	}, nil
}

// Allow counts one hit for key.
func (l *MemoryFixedWindowLimiter) Allow(_ context.Context, key string) (Decision, error) {
	slot, resetAt := windowSlot(l.now(), l.window)
	cacheKey := fmt.Sprintf("%s:%d", normalizeKey(key), slot)
	l.mu.Lock()
	defer l.mu.Unlock()
	var count int64 = 1
	if err := l.counters.Add(cacheKey, count, resetAt.Sub(l.now())+time.Second); err != nil {
		n, incErr := l.counters.IncrementInt64(cacheKey, 1)
		if incErr != nil {
			return Decision{ResetAt: resetAt}, fmt.Errorf("rate limit check: %w", incErr)
		}
		count = n
	}
	return decide(count, l.limit, resetAt), nil
}

func windowSlot(now time.Time, window time.Duration) (int64, time.Time) {
	windowMs := window.Milliseconds()
	slot := now.UTC().UnixMilli() / windowMs
	return slot, time.UnixMilli((slot + 1) * windowMs).UTC()
}

func decide(count int64, limit int, resetAt time.Time) Decision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
