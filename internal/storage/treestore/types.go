// Package treestore provides content-addressed storage for trie nodes and
// program blobs. Entries are immutable: the key is the 32-byte hash of the
// stored content, so a key can only ever map to one value. A Database layers
// an in-memory cache over a pluggable durable Backend and records backend
// reads into a per-operation ReadLog.
package treestore

import (
	"encoding/hex"
	"fmt"
)

// Key is the 32-byte content hash that addresses an entry.
type Key [32]byte

// Hex returns the lowercase hex encoding of the key.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Hex()
}

// Entry is a single (hash, content) pair.
type Entry struct {
	Key  Key
	Data []byte
}

// Status represents the status of a backend operation.
type Status int

const (
	// OK indicates the operation was successful
	OK Status = iota
	// NotFound indicates the requested entry was not found
	NotFound
	// DataCorrupt indicates the stored data is corrupted
	DataCorrupt
	// BackendError indicates an error in the storage backend
	BackendError
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case DataCorrupt:
		return "DataCorrupt"
	case BackendError:
		return "BackendError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Backend defines the interface for durable storage backends.
type Backend interface {
	// Name returns a human-readable name for this backend.
	Name() string

	// Open opens the backend for use.
	Open(createIfMissing bool) error

	// Close closes the backend and releases resources.
	Close() error

	// IsOpen returns true if the backend is currently open.
	IsOpen() bool

	// Fetch retrieves a single entry by key.
	Fetch(key Key) ([]byte, Status)

	// Store saves a single entry.
	Store(key Key, data []byte) Status

	// StoreBatch saves multiple entries atomically where the backend
	// supports it.
	StoreBatch(entries []Entry) Status

	// Sync forces pending writes to be flushed.
	Sync() Status

	// ForEach iterates over all entries in the backend.
	ForEach(fn func(Entry) error) error
}

// Statistics holds performance metrics for a Database.
type Statistics struct {
	Reads       uint64 // Total number of read operations
	CacheHits   uint64 // Number of cache hits
	CacheMisses uint64 // Number of cache misses
	ReadBytes   uint64 // Total bytes read from the backend
	Writes      uint64 // Total number of entries committed
	WriteBytes  uint64 // Total bytes committed to the backend
	CacheSize   int    // Current number of items in the cache
	BackendName string // Name of the storage backend
}

// String returns a formatted string representation of the statistics.
func (s Statistics) String() string {
	hitRate := float64(0)
	if s.Reads > 0 {
		hitRate = float64(s.CacheHits) / float64(s.Reads) * 100
	}
	return fmt.Sprintf(`TreeStore Statistics:
  Backend: %s
  Reads: %d (%.2f%% cache hit rate)
  Cache: %d items
  Writes: %d
  Read Bytes: %d
  Write Bytes: %d`,
		s.BackendName, s.Reads, hitRate, s.CacheSize,
		s.Writes, s.ReadBytes, s.WriteBytes)
}

// ReadLog records every entry resolved from the durable backend during one
// operation, in traversal order. It lets a caller reconstruct the exact
// backend state an operation depended on. A ReadLog is scoped to a single
// call and is not safe for concurrent use.
type ReadLog struct {
	order   []string
	entries map[string][]byte
}

// NewReadLog creates an empty read log.
func NewReadLog() *ReadLog {
	return &ReadLog{entries: make(map[string][]byte)}
}

// Record adds a (hash, content) pair to the log. Re-reads of the same key
// keep the first recorded content; entries are immutable so the content
// cannot differ.
func (l *ReadLog) Record(key Key, data []byte) {
	if l == nil {
		return
	}
	h := key.Hex()
	if _, seen := l.entries[h]; seen {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.entries[h] = cp
	l.order = append(l.order, h)
}

// Len returns the number of recorded entries.
func (l *ReadLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Entries returns the recorded entries keyed by hex hash.
func (l *ReadLog) Entries() map[string][]byte {
	if l == nil {
		return nil
	}
	out := make(map[string][]byte, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Keys returns the recorded keys in traversal order.
func (l *ReadLog) Keys() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}
