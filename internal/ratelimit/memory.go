package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryLimiter counts in process memory. Counts are per instance and are
// lost on restart; the least recently seen key is evicted when maxKeys is
// reached and starts a fresh window on its next request.
type MemoryLimiter struct {
	now     func() time.Time
	buckets *lru.Cache[string, *bucket]
	mu      sync.Mutex
}

type bucket struct {
	windowEnd time.Time
	count     int
}

// NewMemoryLimiter creates a limiter tracking at most maxKeys keys.
func NewMemoryLimiter(maxKeys int, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	// lru.New only fails for a non-positive size.
	buckets, _ := lru.New[string, *bucket](maxKeys)
	return &MemoryLimiter{now: now, buckets: buckets}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets.Get(key)
	if !ok || now.After(b.windowEnd) {
		b = &bucket{windowEnd: now.Add(window)}
		m.buckets.Add(key, b)
	}

	if b.count < limit {
		b.count++
		return Decision{Allowed: true, Limit: limit, Remaining: limit - b.count, ResetAt: b.windowEnd}, nil
	}
	return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: b.windowEnd}, nil
}

// Len reports how many keys are tracked.
func (m *MemoryLimiter) Len() int {
	return m.buckets.Len()
}
