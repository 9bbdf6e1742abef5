package treestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashforge/statetried/internal/storage/treestore"
)

func testKey(b byte) treestore.Key {
	var k treestore.Key
	k[0] = b
	return k
}

func openMemoryDatabase(t *testing.T) *treestore.Database {
	t.Helper()

	cfg := treestore.DefaultConfig()
	cfg.Backend = "memory"

	backend := treestore.NewMemoryBackend()
	require.NoError(t, backend.Open(true))

	db, err := treestore.NewDatabase(backend, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemoryBackendBasics(t *testing.T) {
	backend := treestore.NewMemoryBackend()
	require.NoError(t, backend.Open(true))
	defer backend.Close()

	key := testKey(1)
	require.Equal(t, treestore.OK, backend.Store(key, []byte("hello")))

	data, status := backend.Fetch(key)
	require.Equal(t, treestore.OK, status)
	require.Equal(t, []byte("hello"), data)

	_, status = backend.Fetch(testKey(2))
	require.Equal(t, treestore.NotFound, status)

	// Stored data is copied, not aliased.
	data[0] = 'X'
	data, status = backend.Fetch(key)
	require.Equal(t, treestore.OK, status)
	require.Equal(t, []byte("hello"), data)
}

func TestDatabaseFetchLayering(t *testing.T) {
	db := openMemoryDatabase(t)
	ctx := context.Background()
	key := testKey(1)

	_, err := db.Fetch(ctx, key, nil)
	require.True(t, treestore.IsNotFound(err))

	require.NoError(t, db.Commit([]treestore.Entry{{Key: key, Data: []byte("payload")}}))

	data, err := db.Fetch(ctx, key, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
	require.True(t, db.Cached(key))
}

func TestDatabaseReadLogRecordsBackendHitsOnly(t *testing.T) {
	cfg := treestore.DefaultConfig()
	cfg.Backend = "memory"

	backend := treestore.NewMemoryBackend()
	require.NoError(t, backend.Open(true))

	db, err := treestore.NewDatabase(backend, cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	key := testKey(3)

	// Written straight to the backend: the first Fetch falls through and
	// must land in the read log.
	require.Equal(t, treestore.OK, backend.Store(key, []byte("deep")))

	rlog := treestore.NewReadLog()
	_, err = db.Fetch(ctx, key, rlog)
	require.NoError(t, err)
	require.Equal(t, 1, rlog.Len())
	require.Equal(t, []byte("deep"), rlog.Entries()[key.Hex()])

	// Second fetch is served by the cache and logs nothing.
	rlog2 := treestore.NewReadLog()
	_, err = db.Fetch(ctx, key, rlog2)
	require.NoError(t, err)
	require.Zero(t, rlog2.Len())
}

func TestReadLogFirstWriteWins(t *testing.T) {
	rlog := treestore.NewReadLog()
	key := testKey(9)

	rlog.Record(key, []byte("first"))
	rlog.Record(key, []byte("second"))

	require.Equal(t, 1, rlog.Len())
	require.Equal(t, []byte("first"), rlog.Entries()[key.Hex()])
	require.Equal(t, []string{key.Hex()}, rlog.Keys())

	// A nil log ignores records.
	var nilLog *treestore.ReadLog
	nilLog.Record(key, []byte("x"))
}

// countingBackend wraps a Backend and counts Fetch calls.
type countingBackend struct {
	treestore.Backend
	fetches int
}

func (c *countingBackend) Fetch(key treestore.Key) ([]byte, treestore.Status) {
	c.fetches++
	return c.Backend.Fetch(key)
}

func TestNegativeCacheShortCircuitsRepeatMisses(t *testing.T) {
	cfg := treestore.DefaultConfig()
	cfg.Backend = "memory"

	inner := treestore.NewMemoryBackend()
	require.NoError(t, inner.Open(true))
	counting := &countingBackend{Backend: inner}

	db, err := treestore.NewDatabase(counting, cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	key := testKey(5)

	_, err = db.Fetch(ctx, key, nil)
	require.True(t, treestore.IsNotFound(err))

	// The second miss is answered by the negative cache.
	_, err = db.Fetch(ctx, key, nil)
	require.True(t, treestore.IsNotFound(err))
	require.Equal(t, 1, counting.fetches)

	// Committing the key clears its negative entry.
	require.NoError(t, db.Commit([]treestore.Entry{{Key: key, Data: []byte("now")}}))
	data, err := db.Fetch(ctx, key, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("now"), data)
}

func TestNegativeCacheExpiry(t *testing.T) {
	nc := treestore.NewNegativeCache(10*time.Millisecond, 100)
	key := testKey(6)

	nc.MarkMissing(key)
	require.True(t, nc.IsMissing(key))

	time.Sleep(20 * time.Millisecond)
	require.False(t, nc.IsMissing(key))
}

func TestDatabaseFillDoesNotTouchBackend(t *testing.T) {
	cfg := treestore.DefaultConfig()
	cfg.Backend = "memory"

	backend := treestore.NewMemoryBackend()
	require.NoError(t, backend.Open(true))

	db, err := treestore.NewDatabase(backend, cfg)
	require.NoError(t, err)
	defer db.Close()

	key := testKey(7)
	db.Fill(key, []byte("cached-only"))

	data, err := db.Fetch(context.Background(), key, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("cached-only"), data)

	_, status := backend.Fetch(key)
	require.Equal(t, treestore.NotFound, status)
}

func TestBackendRegistry(t *testing.T) {
	for _, name := range []string{"memory", "pebble", "leveldb"} {
		require.True(t, treestore.IsBackendAvailable(name), name)
	}
	require.False(t, treestore.IsBackendAvailable("bolt"))

	_, err := treestore.CreateBackend("bolt", treestore.DefaultConfig())
	require.Error(t, err)
}
