package treestore

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the positive in-memory tier of a Database: an LRU mapping from
// content hash to stored bytes. Entries are immutable so there is no
// invalidation concern beyond eviction.
type Cache struct {
	entries *lru.Cache[Key, []byte]

	hits   uint64
	misses uint64
}

// NewCache creates a cache holding at most maxSize entries.
func NewCache(maxSize int) (*Cache, error) {
	entries, err := lru.New[Key, []byte](maxSize)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Get retrieves an entry from the cache.
func (c *Cache) Get(key Key) ([]byte, bool) {
	data, found := c.entries.Get(key)
	if !found {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return data, true
}

// Put stores an entry in the cache, evicting the least recently used entry
// when full.
func (c *Cache) Put(key Key, data []byte) {
	c.entries.Add(key, data)
}

// Contains checks for a key without affecting recency or stats.
func (c *Cache) Contains(key Key) bool {
	return c.entries.Contains(key)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge removes all entries from the cache.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// NegativeCache tracks keys that are known to be missing from the backend,
// preventing repeated lookups for entries that do not exist. Entries expire
// after a TTL because a missing key may be committed later.
type NegativeCache struct {
	mu      sync.RWMutex
	entries map[Key]time.Time // key -> expiration time
	ttl     time.Duration
	maxSize int
}

// NewNegativeCache creates a negative cache with the given TTL and size
// bound. A maxSize of 0 disables the bound.
func NewNegativeCache(ttl time.Duration, maxSize int) *NegativeCache {
	return &NegativeCache{
		entries: make(map[Key]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// MarkMissing records that a key is not present in the backend.
func (nc *NegativeCache) MarkMissing(key Key) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.maxSize > 0 && len(nc.entries) >= nc.maxSize {
		nc.evictExpiredLocked()
		// Still full after sweeping: drop arbitrary entries. The cache is
		// an optimization, correctness never depends on its contents.
		for k := range nc.entries {
			if len(nc.entries) < nc.maxSize {
				break
			}
			delete(nc.entries, k)
		}
	}
	nc.entries[key] = time.Now().Add(nc.ttl)
}

// IsMissing reports whether a key is known to be missing and not expired.
func (nc *NegativeCache) IsMissing(key Key) bool {
	nc.mu.RLock()
	expiresAt, found := nc.entries[key]
	nc.mu.RUnlock()

	if !found {
		return false
	}
	if time.Now().After(expiresAt) {
		nc.mu.Lock()
		if exp, ok := nc.entries[key]; ok && time.Now().After(exp) {
			delete(nc.entries, key)
		}
		nc.mu.Unlock()
		return false
	}
	return true
}

// Remove forgets a key. Called when the key is written.
func (nc *NegativeCache) Remove(key Key) {
	nc.mu.Lock()
	delete(nc.entries, key)
	nc.mu.Unlock()
}

// Sweep removes all expired entries, returning the count removed.
func (nc *NegativeCache) Sweep() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.evictExpiredLocked()
}

// Len returns the current number of tracked keys.
func (nc *NegativeCache) Len() int {
	nc.mu.RLock()
	n := len(nc.entries)
	nc.mu.RUnlock()
	return n
}

// evictExpiredLocked removes expired entries. Caller must hold the lock.
func (nc *NegativeCache) evictExpiredLocked() int {
	now := time.Now()
	removed := 0
	for key, expiresAt := range nc.entries {
		if now.After(expiresAt) {
			delete(nc.entries, key)
			removed++
		}
	}
	return removed
}
