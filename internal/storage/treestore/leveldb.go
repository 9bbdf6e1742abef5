package treestore

import (
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBBackend implements a durable Backend on goleveldb. It is the
// lighter-weight alternative to the pebble backend for small deployments.
type LevelDBBackend struct {
	db     *leveldb.DB
	config *Config

	open int64 // atomic open flag
}

// NewLevelDBBackend creates a new LevelDB backend.
func NewLevelDBBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	return &LevelDBBackend{config: config}, nil
}

// Name returns the name of this backend.
func (l *LevelDBBackend) Name() string {
	return fmt.Sprintf("leveldb(%s)", l.config.Path)
}

// Open opens the backend for use.
func (l *LevelDBBackend) Open(createIfMissing bool) error {
	if !atomic.CompareAndSwapInt64(&l.open, 0, 1) {
		return fmt.Errorf("backend already open")
	}

	opts := &opt.Options{
		ErrorIfMissing: !createIfMissing,
	}
	db, err := leveldb.OpenFile(l.config.Path, opts)
	if err != nil {
		atomic.StoreInt64(&l.open, 0)
		return fmt.Errorf("failed to open leveldb at %s: %w", l.config.Path, err)
	}
	l.db = db
	return nil
}

// Close closes the backend and releases resources.
func (l *LevelDBBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&l.open, 1, 0) {
		return nil
	}
	if l.db != nil {
		err := l.db.Close()
		l.db = nil
		return err
	}
	return nil
}

// IsOpen returns true if the backend is currently open.
func (l *LevelDBBackend) IsOpen() bool {
	return atomic.LoadInt64(&l.open) != 0
}

// Fetch retrieves a single entry by key.
func (l *LevelDBBackend) Fetch(key Key) ([]byte, Status) {
	if !l.IsOpen() {
		return nil, BackendError
	}

	data, err := l.db.Get(key[:], nil)
	if err == leveldb.ErrNotFound {
		return nil, NotFound
	}
	if err != nil {
		return nil, BackendError
	}
	return data, OK
}

// Store saves a single entry.
func (l *LevelDBBackend) Store(key Key, data []byte) Status {
	if !l.IsOpen() {
		return BackendError
	}
	if err := l.db.Put(key[:], data, nil); err != nil {
		return BackendError
	}
	return OK
}

// StoreBatch saves multiple entries in one write batch.
func (l *LevelDBBackend) StoreBatch(entries []Entry) Status {
	if !l.IsOpen() {
		return BackendError
	}
	if len(entries) == 0 {
		return OK
	}

	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put(e.Key[:], e.Data)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return BackendError
	}
	return OK
}

// Sync forces pending writes to be flushed.
func (l *LevelDBBackend) Sync() Status {
	if !l.IsOpen() {
		return BackendError
	}
	// goleveldb persists through its journal on every write; an empty
	// synced batch forces the journal to disk.
	if err := l.db.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true}); err != nil {
		return BackendError
	}
	return OK
}

// ForEach iterates over all entries in the backend.
func (l *LevelDBBackend) ForEach(fn func(Entry) error) error {
	if !l.IsOpen() {
		return ErrBackendClosed
	}

	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		k := iter.Key()
		if len(k) != 32 {
			continue
		}
		var key Key
		copy(key[:], k)

		data := make([]byte, len(iter.Value()))
		copy(data, iter.Value())

		if err := fn(Entry{Key: key, Data: data}); err != nil {
			return err
		}
	}
	return iter.Error()
}
