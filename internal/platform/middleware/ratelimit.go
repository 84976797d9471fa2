package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// bucketIdleTTL is how long an unused bucket is kept. A bucket idle this
// long has refilled completely, so dropping it loses nothing.
const bucketIdleTTL = 10 * time.Minute

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return newTokenBucketAt(rate, burst, time.Now())
}

func newTokenBucketAt(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
	}
	b.lastRefill = now
}

func (b *tokenBucket) allowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// remaining reports whole tokens left after the last refill.
func (b *tokenBucket) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tokens)
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 1
	}
	return int((1-b.tokens)/b.refillRate) + 1
}

// rateLimiterStore holds one bucket per caller and evicts idle ones on a
// sweep that runs at most once per bucketIdleTTL.
type rateLimiterStore struct {
	mu        sync.RWMutex
	buckets   map[string]*tokenBucket
	config    RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		buckets:   make(map[string]*tokenBucket),
		config:    cfg,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getBucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	now := s.now()
	if now.Sub(s.lastSweep) >= bucketIdleTTL {
		s.sweepLocked(now)
	}
	bucket = newTokenBucketAt(s.config.RequestsPerSecond, s.config.BurstSize, now)
	s.buckets[key] = bucket
	return bucket
}

func (s *rateLimiterStore) sweepLocked(now time.Time) {
	for k, b := range s.buckets {
		if b.idleSince(now) >= bucketIdleTTL {
			delete(s.buckets, k)
		}
	}
	s.lastSweep = now
}

func (s *rateLimiterStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// rateLimitKey buckets authenticated callers by user and everyone else by IP.
func rateLimitKey(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a per-caller token bucket limiter.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bucket := store.getBucket(rateLimitKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !bucket.allowAt(store.now()) {
				h.Set("Retry-After", strconv.Itoa(bucket.retryAfter()))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(bucket.remaining()))
			return next(c)
		}
	}
}
