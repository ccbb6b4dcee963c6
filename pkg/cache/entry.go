package cache

import (
	"time"
)

// Entry represents a cached list page.
type Entry struct {
	// Data is the JSON-encoded page payload.
	Data []byte `json:"data"`

	// Expires is when the entry becomes stale (from the API expires header,
	// or a client-side TTL when the server sends none).
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this page.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
