package model

import "time"

// SignedRef addresses a stored object together with a short-lived access
// token scoped to that path.
type SignedRef struct {
	ExpiresAt time.Time
	Path      string
	Token     string
}
