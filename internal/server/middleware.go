package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether one more event from key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimiter is an in-process token bucket per key (a client network address).
// Buckets start full at capacity and refill continuously at refillRate tokens/second.
type RateLimiter struct {
	capacity   float64
	refillRate float64
	buckets    map[string]*bucket
	mu         sync.Mutex
	now        func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewRateLimiter(capacity int, refillRate float64) *RateLimiter {
	return &RateLimiter{
		capacity:   float64(capacity),
		refillRate: refillRate,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// NewWindowLimiter allows limit requests per window, refilled smoothly.
func NewWindowLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiter(limit, float64(limit)/window.Seconds())
}

func (r *RateLimiter) Allow(_ context.Context, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: r.capacity, lastRefill: now}
		r.buckets[key] = b
	}
	r.refill(b, now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (r *RateLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(r.capacity, b.tokens+elapsed*r.refillRate)
	b.lastRefill = now
}

// Cleanup drops buckets that have refilled completely; they are indistinguishable
// from a fresh bucket.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, b := range r.buckets {
		r.refill(b, now)
		if b.tokens >= r.capacity {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) RemoveConnection(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}

// KEYS[1]: bucket key
// ARGV[1]: capacity
// ARGV[2]: refill rate, tokens per second
// ARGV[3]: now, unix milliseconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', key .. ':tokens') or capacity)
local last_refill = tonumber(redis.call('GET', key .. ':last_refill') or now)

local elapsed = math.max(0, now - last_refill) / 1000
tokens = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('SET', key .. ':tokens', tokens, 'EX', 3600)
redis.call('SET', key .. ':last_refill', now, 'EX', 3600)

return allowed
`)

// RedisLimiter keeps the token buckets in Redis so every process behind the same
// address pool shares one budget per client.
type RedisLimiter struct {
	client     *redis.Client
	prefix     string
	capacity   int
	refillRate float64
	logger     *zap.Logger
	now        func() time.Time
}

func NewRedisLimiter(client *redis.Client, capacity int, refillRate float64, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:     client,
		prefix:     "connect4:ratelimit:",
		capacity:   capacity,
		refillRate: refillRate,
		logger:     logger,
		now:        time.Now,
	}
}

// Allow fails open: a Redis outage must not lock every player out.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	allowed, err := tokenBucketScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.capacity,
		strconv.FormatFloat(l.refillRate, 'f', -1, 64),
		l.now().UnixMilli(),
	).Int()
	if err != nil {
		l.logger.Warn("redis rate limiter unavailable, allowing event",
			zap.String("key", key), zap.Error(err))
		return true
	}
	return allowed == 1
}

// clientAddress is the network address used to key rate limits.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects HTTP requests over the per-address budget with 429.
func rateLimitMiddleware(limiter Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(r.Context(), clientAddress(r)) {
			http.Error(w, "Too many requests from this IP, please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
