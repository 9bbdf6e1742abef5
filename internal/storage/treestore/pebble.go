package treestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/pierrec/lz4"
)

const (
	// Values below this size are never compressed.
	minCompressionSize = 128

	valueRaw        = 0 // value stored as-is
	valueCompressed = 1 // value stored lz4 block compressed
)

// PebbleBackend implements a durable Backend on PebbleDB. Point lookups by
// content hash dominate the workload, so every level carries a bloom filter.
type PebbleBackend struct {
	db     *pebble.DB
	config *Config

	open int64 // atomic open flag
}

// NewPebbleBackend creates a new PebbleDB backend.
func NewPebbleBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	return &PebbleBackend{config: config}, nil
}

// Name returns the name of this backend.
func (p *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.config.Path)
}

// Open opens the backend for use.
func (p *PebbleBackend) Open(createIfMissing bool) error {
	if !atomic.CompareAndSwapInt64(&p.open, 0, 1) {
		return fmt.Errorf("backend already open")
	}

	if createIfMissing {
		if err := os.MkdirAll(p.config.Path, 0755); err != nil {
			atomic.StoreInt64(&p.open, 0)
			return fmt.Errorf("failed to create directory %s: %w", p.config.Path, err)
		}
	}

	db, err := pebble.Open(p.config.Path, p.buildOptions())
	if err != nil {
		atomic.StoreInt64(&p.open, 0)
		return fmt.Errorf("failed to open pebble at %s: %w", p.config.Path, err)
	}
	p.db = db
	return nil
}

// buildOptions tunes PebbleDB for a content-addressed workload: random
// point lookups by hash and bursty batched writes.
func (p *PebbleBackend) buildOptions() *pebble.Options {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(256 << 20),
		MaxOpenFiles:                10000,
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		MaxConcurrentCompactions:    runtime.NumCPU,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       20,
		LBaseMaxBytes:               256 << 20,
		Levels:                      make([]pebble.LevelOptions, 7),
	}

	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:      32 << 10,
			FilterPolicy:   bloom.FilterPolicy(10),
			FilterType:     pebble.TableFilter,
			TargetFileSize: int64(8<<20) << uint(i),
			// Compression is handled above the backend so the flag
			// byte survives round trips unchanged.
			Compression: pebble.NoCompression,
		}
		if opts.Levels[i].TargetFileSize > 256<<20 {
			opts.Levels[i].TargetFileSize = 256 << 20
		}
	}
	return opts
}

// Close closes the backend and releases resources.
func (p *PebbleBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&p.open, 1, 0) {
		return nil
	}

	var err error
	if p.db != nil {
		if flushErr := p.db.Flush(); flushErr != nil {
			err = flushErr
		}
		if closeErr := p.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		p.db = nil
	}
	return err
}

// IsOpen returns true if the backend is currently open.
func (p *PebbleBackend) IsOpen() bool {
	return atomic.LoadInt64(&p.open) != 0
}

// Fetch retrieves a single entry by key.
func (p *PebbleBackend) Fetch(key Key) ([]byte, Status) {
	if !p.IsOpen() {
		return nil, BackendError
	}

	value, closer, err := p.db.Get(key[:])
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, NotFound
		}
		return nil, BackendError
	}
	defer closer.Close()

	data, err := decodeValue(value)
	if err != nil {
		return nil, DataCorrupt
	}
	return data, OK
}

// Store saves a single entry.
func (p *PebbleBackend) Store(key Key, data []byte) Status {
	if !p.IsOpen() {
		return BackendError
	}
	if err := p.db.Set(key[:], p.encodeValue(data), pebble.NoSync); err != nil {
		return BackendError
	}
	return OK
}

// StoreBatch saves multiple entries in one atomic batch.
func (p *PebbleBackend) StoreBatch(entries []Entry) Status {
	if !p.IsOpen() {
		return BackendError
	}
	if len(entries) == 0 {
		return OK
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		if err := batch.Set(e.Key[:], p.encodeValue(e.Data), nil); err != nil {
			return BackendError
		}
	}

	// Sync large batches for durability, rely on the WAL otherwise.
	syncMode := pebble.NoSync
	if len(entries) > 1000 {
		syncMode = pebble.Sync
	}
	if err := batch.Commit(syncMode); err != nil {
		return BackendError
	}
	return OK
}

// Sync forces pending writes to be flushed.
func (p *PebbleBackend) Sync() Status {
	if !p.IsOpen() {
		return BackendError
	}
	if err := p.db.Flush(); err != nil {
		return BackendError
	}
	return OK
}

// ForEach iterates over all entries in the backend.
func (p *PebbleBackend) ForEach(fn func(Entry) error) error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) != 32 {
			continue
		}
		var key Key
		copy(key[:], k)

		data, decErr := decodeValue(iter.Value())
		if decErr != nil {
			return decErr
		}
		if err := fn(Entry{Key: key, Data: data}); err != nil {
			return err
		}
	}
	return iter.Error()
}

// encodeValue prefixes the payload with a compression flag, lz4 block
// compressing it when that is enabled and worthwhile. The compressed form is
// flag || 4-byte original length || lz4 block.
func (p *PebbleBackend) encodeValue(data []byte) []byte {
	if p.config.Compression && len(data) >= minCompressionSize {
		buf := make([]byte, 5+lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf[5:], nil)
		// Keep the raw form when compression fails or does not shrink
		// the payload by at least 10%.
		if err == nil && n > 0 && n < len(data)*9/10 {
			buf[0] = valueCompressed
			binary.BigEndian.PutUint32(buf[1:5], uint32(len(data)))
			return buf[:5+n]
		}
	}

	out := make([]byte, 1+len(data))
	out[0] = valueRaw
	copy(out[1:], data)
	return out
}

// decodeValue strips the compression flag and decompresses if needed.
func decodeValue(value []byte) ([]byte, error) {
	if len(value) < 1 {
		return nil, fmt.Errorf("value too short: %d bytes", len(value))
	}

	switch value[0] {
	case valueRaw:
		out := make([]byte, len(value)-1)
		copy(out, value[1:])
		return out, nil
	case valueCompressed:
		if len(value) < 5 {
			return nil, fmt.Errorf("compressed value too short: %d bytes", len(value))
		}
		origLen := binary.BigEndian.Uint32(value[1:5])
		out := make([]byte, origLen)
		n, err := lz4.UncompressBlock(value[5:], out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint32(n) != origLen {
			return nil, fmt.Errorf("decompressed length mismatch: expected %d, got %d", origLen, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value flag: %d", value[0])
	}
}
