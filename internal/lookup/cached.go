package lookup

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CachedStore wraps a Store with a TTL cache over search queries. Writes
// invalidate the whole query cache; records are small and renames must be
// visible immediately.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	records []Record
	expires time.Time
}

// NewCachedStore creates a caching wrapper with the given TTL.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Search serves from cache while the entry is fresh.
func (c *CachedStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.records, nil
	}

	records, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return records, nil
}

// Get bypasses the cache; point reads are already cheap.
func (c *CachedStore) Get(ctx context.Context, docID string) (Record, error) {
	return c.inner.Get(ctx, docID)
}

// Put writes through and invalidates cached queries.
func (c *CachedStore) Put(ctx context.Context, rec Record) error {
	if err := c.inner.Put(ctx, rec); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

// Rename writes through and invalidates cached queries.
func (c *CachedStore) Rename(ctx context.Context, docID, title string) error {
	if err := c.inner.Rename(ctx, docID, title); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

// Delete writes through and invalidates cached queries.
func (c *CachedStore) Delete(ctx context.Context, docID string) error {
	if err := c.inner.Delete(ctx, docID); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

// Close releases the wrapped store.
func (c *CachedStore) Close() error {
	c.invalidate()
	return c.inner.Close()
}

func (c *CachedStore) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
