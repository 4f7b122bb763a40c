package cache

import (
	"context"
	"sync"
	"time"
)

// HistoryCache keeps raw history pages grouped by a session scope.
type HistoryCache interface {
	// Get returns the cached page, the bool result is false on miss.
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, raw []byte) error
	// Invalidate drops all the scope pages.
	Invalidate(ctx context.Context, scope string) error
}

type (
	// MemoryCache is an in-process HistoryCache.
	MemoryCache struct {
		sync.Mutex
		ttl    time.Duration
		scopes map[string]map[string]memoryEntry
	}

	memoryEntry struct {
		raw       []byte
		expiresAt time.Time
	}
)

// Get implements the HistoryCache interface.
func (c *MemoryCache) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	c.Lock()
	defer c.Unlock()

	entry, found := c.scopes[scope][key]
	if !found {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.scopes[scope], key)
		return nil, false, nil
	}

	return append([]byte(nil), entry.raw...), true, nil
}

// Set implements the HistoryCache interface.
func (c *MemoryCache) Set(_ context.Context, scope, key string, raw []byte) error {
	c.Lock()
	defer c.Unlock()

	entries, found := c.scopes[scope]
	if !found {
		entries = make(map[string]memoryEntry)
		c.scopes[scope] = entries
	}

	entry := memoryEntry{raw: append([]byte(nil), raw...)}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	entries[key] = entry

	return nil
}

// Invalidate implements the HistoryCache interface.
func (c *MemoryCache) Invalidate(_ context.Context, scope string) error {
	c.Lock()
	defer c.Unlock()

	delete(c.scopes, scope)

	return nil
}

// NewMemoryCache creates a new MemoryCache object, zero ttl means no expiration.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:    ttl,
		scopes: make(map[string]map[string]memoryEntry),
	}
}
