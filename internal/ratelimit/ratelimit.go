// Package ratelimit implements fixed-window request limiting.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	ResetAt   time.Time
	Limit     int
	Remaining int
	Allowed   bool
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// unlimited is the decision for a non-positive limit.
func unlimited(limit int) Decision {
	return Decision{Allowed: true, Limit: limit, Remaining: limit}
}
