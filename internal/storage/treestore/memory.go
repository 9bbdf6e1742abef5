package treestore

import (
	"sync"
	"sync/atomic"
)

// MemoryBackend implements an in-memory Backend. It is used for tests and
// for fully ephemeral deployments.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[Key][]byte

	open int64 // atomic flag for open state
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[Key][]byte)}
}

// newMemoryBackendFromConfig adapts NewMemoryBackend to the BackendFactory
// signature; the config is ignored.
func newMemoryBackendFromConfig(config *Config) (Backend, error) {
	return NewMemoryBackend(), nil
}

// Name returns the name of this backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Open opens the backend for use.
func (m *MemoryBackend) Open(createIfMissing bool) error {
	if !atomic.CompareAndSwapInt64(&m.open, 0, 1) {
		return ErrBackendClosed
	}
	return nil
}

// Close closes the backend and clears all data.
func (m *MemoryBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&m.open, 1, 0) {
		return nil
	}
	m.mu.Lock()
	m.data = make(map[Key][]byte)
	m.mu.Unlock()
	return nil
}

// IsOpen returns true if the backend is currently open.
func (m *MemoryBackend) IsOpen() bool {
	return atomic.LoadInt64(&m.open) != 0
}

// Fetch retrieves a single entry by key.
func (m *MemoryBackend) Fetch(key Key) ([]byte, Status) {
	if !m.IsOpen() {
		return nil, BackendError
	}

	m.mu.RLock()
	data, found := m.data[key]
	m.mu.RUnlock()

	if !found {
		return nil, NotFound
	}

	// Return a copy to prevent mutation
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, OK
}

// Store saves a single entry.
func (m *MemoryBackend) Store(key Key, data []byte) Status {
	if !m.IsOpen() {
		return BackendError
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	return OK
}

// StoreBatch saves multiple entries.
func (m *MemoryBackend) StoreBatch(entries []Entry) Status {
	if !m.IsOpen() {
		return BackendError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		cp := make([]byte, len(e.Data))
		copy(cp, e.Data)
		m.data[e.Key] = cp
	}
	return OK
}

// Sync is a no-op for the memory backend.
func (m *MemoryBackend) Sync() Status {
	if !m.IsOpen() {
		return BackendError
	}
	return OK
}

// ForEach iterates over all entries in the backend.
func (m *MemoryBackend) ForEach(fn func(Entry) error) error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, data := range m.data {
		cp := make([]byte, len(data))
		copy(cp, data)
		if err := fn(Entry{Key: key, Data: cp}); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of entries stored in the backend.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	size := len(m.data)
	m.mu.RUnlock()
	return size
}
