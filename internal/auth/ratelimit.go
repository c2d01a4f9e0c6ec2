package auth

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trades-finder/internal/observability"
)

// RateLimiter counts hits per key inside a window. When a key is over the
// limit Allow returns false and how long to wait.
type RateLimiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

type MemoryRateLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitsByKey map[string][]time.Time
	maxMemory int
}

func NewMemoryRateLimiter(maxHits int, window time.Duration) *MemoryRateLimiter {
	maxHits, window = rateLimitDefaults(maxHits, window)

	return &MemoryRateLimiter{
		maxHits:   maxHits,
		window:    window,
		hitsByKey: make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitsByKey[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		l.hitsByKey[key] = filtered
		return false, atLeastSecond(filtered[0].Add(l.window).Sub(now)), nil
	}

	filtered = append(filtered, now)
	l.hitsByKey[key] = filtered

	if len(l.hitsByKey) > l.maxMemory {
		for k, value := range l.hitsByKey {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitsByKey, k)
			}
		}
	}

	return true, 0, nil
}

// RedisRateLimiter is a fixed-window limiter shared by every instance that
// points at the same Redis.
type RedisRateLimiter struct {
	client  *redis.Client
	prefix  string
	maxHits int
	window  time.Duration
}

func NewRedisRateLimiter(client *redis.Client, prefix string, maxHits int, window time.Duration) *RedisRateLimiter {
	maxHits, window = rateLimitDefaults(maxHits, window)
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RedisRateLimiter{client: client, prefix: prefix, maxHits: maxHits, window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	redisKey := l.prefix + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("increment rate limit: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire rate limit: %w", err)
		}
		remaining = l.window
	}

	if incr.Val() > int64(l.maxHits) {
		return false, atLeastSecond(remaining), nil
	}

	return true, 0, nil
}

// RateLimitMiddleware limits requests per client IP under scope. Limiter
// failures let the request through.
func RateLimitMiddleware(limiter RateLimiter, scope string, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := limiter.Allow(r.Context(), scope+":"+ip, time.Now().UTC())
		if err != nil {
			logger.Warn("rate_limit_unavailable", map[string]any{"scope": scope, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			logger.Warn("rate_limited", map[string]any{"scope": scope, "ip": ip})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up so clients never retry before the window ends.
func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func rateLimitDefaults(maxHits int, window time.Duration) (int, time.Duration) {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return maxHits, window
}

func atLeastSecond(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
