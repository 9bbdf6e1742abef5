package treestore

import (
	"context"
	"sync/atomic"
)

// Database layers an LRU cache and a negative cache over a Backend.
// Lookup order is cache, then backend; a backend hit fills the cache and is
// recorded into the caller's ReadLog. Committed writes go to the backend and
// the cache together; cache-only fills (LoadDB, write-buffer promotion) touch
// just the memory tier.
type Database struct {
	backend  Backend
	cache    *Cache
	negative *NegativeCache

	stats struct {
		reads       uint64
		cacheHits   uint64
		cacheMisses uint64
		writes      uint64
		readBytes   uint64
		writeBytes  uint64
	}
}

// NewDatabase creates a Database over an already-open backend.
func NewDatabase(backend Backend, config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}

	cache, err := NewCache(config.CacheSize)
	if err != nil {
		return nil, err
	}

	var negative *NegativeCache
	if config.NegativeCacheTTL > 0 {
		negative = NewNegativeCache(config.NegativeCacheTTL, config.NegativeCacheSize)
	}

	return &Database{
		backend:  backend,
		cache:    cache,
		negative: negative,
	}, nil
}

// Fetch retrieves an entry by key. A read that falls through to the backend
// is recorded into rlog (which may be nil). Returns ErrNotFound (wrapped)
// when the key does not exist in either tier.
func (d *Database) Fetch(ctx context.Context, key Key, rlog *ReadLog) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	atomic.AddUint64(&d.stats.reads, 1)

	if data, found := d.cache.Get(key); found {
		atomic.AddUint64(&d.stats.cacheHits, 1)
		return data, nil
	}
	atomic.AddUint64(&d.stats.cacheMisses, 1)

	if d.negative != nil && d.negative.IsMissing(key) {
		return nil, wrapStatus("fetch", d.backend.Name(), key, NotFound)
	}

	data, status := d.backend.Fetch(key)
	if status == NotFound {
		if d.negative != nil {
			d.negative.MarkMissing(key)
		}
		return nil, wrapStatus("fetch", d.backend.Name(), key, NotFound)
	}
	if status != OK {
		return nil, wrapStatus("fetch", d.backend.Name(), key, status)
	}

	atomic.AddUint64(&d.stats.readBytes, uint64(len(data)))
	d.cache.Put(key, data)
	rlog.Record(key, data)
	return data, nil
}

// Cached reports whether a key is currently resident in the cache. Used to
// classify staged writes as inserts or updates without touching the backend.
func (d *Database) Cached(key Key) bool {
	return d.cache.Contains(key)
}

// Fill places an entry into the cache only. The backend is not written;
// this is the path for bulk imports and for promoting acknowledged
// write-buffer entries.
func (d *Database) Fill(key Key, data []byte) {
	d.cache.Put(key, data)
	if d.negative != nil {
		d.negative.Remove(key)
	}
}

// Commit durably writes a batch of entries to the backend and fills the
// cache with them.
func (d *Database) Commit(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	if status := d.backend.StoreBatch(entries); status != OK {
		return wrapStatus("commit", d.backend.Name(), Key{}, status)
	}

	for _, e := range entries {
		atomic.AddUint64(&d.stats.writes, 1)
		atomic.AddUint64(&d.stats.writeBytes, uint64(len(e.Data)))
		d.cache.Put(e.Key, e.Data)
		if d.negative != nil {
			d.negative.Remove(e.Key)
		}
	}
	return nil
}

// Sweep removes expired entries from the negative cache.
func (d *Database) Sweep() int {
	if d.negative == nil {
		return 0
	}
	return d.negative.Sweep()
}

// Stats returns performance statistics.
func (d *Database) Stats() Statistics {
	return Statistics{
		Reads:       atomic.LoadUint64(&d.stats.reads),
		CacheHits:   atomic.LoadUint64(&d.stats.cacheHits),
		CacheMisses: atomic.LoadUint64(&d.stats.cacheMisses),
		ReadBytes:   atomic.LoadUint64(&d.stats.readBytes),
		Writes:      atomic.LoadUint64(&d.stats.writes),
		WriteBytes:  atomic.LoadUint64(&d.stats.writeBytes),
		CacheSize:   d.cache.Len(),
		BackendName: d.backend.Name(),
	}
}

// Sync flushes pending backend writes to disk.
func (d *Database) Sync() error {
	if status := d.backend.Sync(); status != OK {
		return wrapStatus("sync", d.backend.Name(), Key{}, status)
	}
	return nil
}

// Close closes the underlying backend.
func (d *Database) Close() error {
	return d.backend.Close()
}
