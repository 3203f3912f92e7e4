// Package cache provides bounded, expiring in-process caches.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_cache_lookups_total",
		Help: "Cache lookups by cache name and result.",
	},
	[]string{"cache", "result"},
)

// Cache is a keyed store whose entries may disappear at any time.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
}

// LRU is a size-bounded cache whose entries expire after a fixed TTL.
type LRU[K comparable, V any] struct {
	lru    *expirable.LRU[K, V]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewLRU creates an LRU holding at most size entries for ttl each. The name
// labels its hit and miss counters.
func NewLRU[K comparable, V any](name string, size int, ttl time.Duration) *LRU[K, V] {
	if size <= 0 {
		size = 1024
	}
	return &LRU[K, V]{
		lru:    expirable.NewLRU[K, V](size, nil, ttl),
		hits:   lookupsTotal.WithLabelValues(name, "hit"),
		misses: lookupsTotal.WithLabelValues(name, "miss"),
	}
}

// Get returns the cached value for key.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return v, ok
}

// Set adds or replaces the value for key.
func (c *LRU[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Delete evicts key.
func (c *LRU[K, V]) Delete(key K) {
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Noop never stores anything.
type Noop[K comparable, V any] struct{}

// Get always misses.
func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}

// Set discards the value.
func (Noop[K, V]) Set(K, V) {}

// Delete does nothing.
func (Noop[K, V]) Delete(K) {}

// Len is always zero.
func (Noop[K, V]) Len() int { return 0 }
