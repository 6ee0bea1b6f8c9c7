package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc selects the identity used to key a rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by authenticated user, falling back to the
// client IP. Install the limiter after RequireUser to get per-user buckets.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

const sweepEvery = 5000

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a process-local per-key token bucket. The generation quota,
// which must hold across replicas, lives in Redis instead (see
// GenerationQuota).
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst. A burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		idle:    10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns the bucket for key, creating it if absent. Every
// sweepEvery lookups buckets idle for longer than rl.idle are dropped.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= sweepEvery {
		rl.sweep(now)
		rl.lookups = 0
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.idle {
			delete(rl.buckets, k)
		}
	}
}

// IsRateBypass reports whether IdempotencyValidator flagged this request as
// a replay that should not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler enforces the limit, answering 429 with Retry-After when a bucket
// is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsRateBypass(c) && !rl.limiter(rl.key(c), time.Now()).Allow() {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
