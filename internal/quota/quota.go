// Package quota implements fixed-window counters that bound how many
// generation requests a user can start per window.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter decides whether key may spend one more unit in the current window.
type Counter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

// Redis is a fixed-window counter shared by every API replica.
type Redis struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

// NewRedis returns a counter allowing limit hits per window for each key.
func NewRedis(rdb redis.UniversalClient, limit int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, limit: limit, window: window, prefix: "quota:"}
}

// Allow increments the window counter. INCR and EXPIRE NX run in one
// MULTI, so a counter can never be left without a TTL; a key that somehow
// lost its TTL gets one on the next hit. EXPIRE NX needs Redis 7.
func (r *Redis) Allow(ctx context.Context, key string) (bool, int, error) {
	k := r.prefix + key
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("quota: redis: %w", err)
	}
	n := int(incr.Val())
	if n > r.limit {
		return false, 0, nil
	}
	return true, r.limit - n, nil
}

// Memory is a process-local counter used when Redis is not configured.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	count int
	reset time.Time
}

// NewMemory returns an in-process counter.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{limit: limit, window: window, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow implements Counter.
func (m *Memory) Allow(_ context.Context, key string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(m.window)}
		m.buckets[key] = b
	}
	if b.count >= m.limit {
		return false, 0, nil
	}
	b.count++
	return true, m.limit - b.count, nil
}

// Sweep drops expired buckets.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, b := range m.buckets {
		if !now.Before(b.reset) {
			delete(m.buckets, k)
		}
	}
}
