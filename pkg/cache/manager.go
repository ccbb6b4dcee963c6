package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles list-page caching with a Redis backend.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves a cached page by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	cacheKey := key.String()

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		Misses.Inc()
		return nil, ErrCacheMiss
	}

	Hits.WithLabelValues("redis").Inc()
	return &entry, nil
}

// Set stores a page entry under the given key. The Redis TTL mirrors the
// entry's own expiry so stale entries age out without a sweeper.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Invalidate removes every cached list page. Called after any successful
// mutation, since a delete or move can change the membership of any filter.
func (m *Manager) Invalidate(ctx context.Context) error {
	Invalidations.Inc()

	iter := m.redis.Scan(ctx, 0, InvalidationPattern(), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		Errors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		Errors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// NewEntry builds an entry for a page payload. expires may be zero, in which
// case fallbackTTL is applied from now.
func NewEntry(data []byte, expires time.Time, fallbackTTL time.Duration) *Entry {
	now := time.Now()
	if expires.IsZero() {
		expires = now.Add(fallbackTTL)
	}
	return &Entry{
		Data:     data,
		Expires:  expires,
		CachedAt: now,
	}
}
