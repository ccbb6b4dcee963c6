// Package cache provides caching for card API list pages with a Redis
// backend. Mutations invalidate the whole list keyspace; only read paths
// consult the cache.
package cache

import (
	"fmt"
	"strings"
)

// keyPrefix namespaces all list-page keys in Redis.
const keyPrefix = "cardapi:list"

// Key identifies one cached list page.
type Key struct {
	// Filter is the deterministic encoding of the list filter
	// (store.FilterParams.Key()).
	Filter string

	// Page is the 1-based page number.
	Page int

	// PageSize is the requested page size.
	PageSize int
}

// String generates a deterministic cache key string.
// Format: cardapi:list:<filter>:page=N:size=M
//
// Example:
//
//	cardapi:list:deck=d1&q=kanji:page=3:size=1000
func (k Key) String() string {
	parts := []string{keyPrefix}

	filter := k.Filter
	if filter == "" {
		filter = "all"
	}
	parts = append(parts, filter)
	parts = append(parts, fmt.Sprintf("page=%d", k.Page))
	parts = append(parts, fmt.Sprintf("size=%d", k.PageSize))

	return strings.Join(parts, ":")
}

// InvalidationPattern matches every list-page key, for SCAN-based purges
// after a successful mutation.
func InvalidationPattern() string {
	return keyPrefix + ":*"
}
