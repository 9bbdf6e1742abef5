package relationaldb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashforge/statetried/internal/core/flush"
	"github.com/hashforge/statetried/internal/fea"
	"github.com/hashforge/statetried/internal/statedb"
	"github.com/hashforge/statetried/internal/storage/relationaldb"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

func newTestStateDB(t *testing.T) *statedb.StateDB {
	t.Helper()

	cfg := treestore.DefaultConfig()
	cfg.Backend = "memory"

	open := func() *treestore.Database {
		backend := treestore.NewMemoryBackend()
		require.NoError(t, backend.Open(true))
		db, err := treestore.NewDatabase(backend, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}

	return statedb.New(open(), open(), flush.NewPipeline(nil))
}

func newSQLiteWriter(t *testing.T, sdb *statedb.StateDB) *relationaldb.Writer {
	t.Helper()

	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "durable.db")

	w, err := relationaldb.NewWriter(context.Background(), cfg, sdb)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestConfigValidate(t *testing.T) {
	cfg := relationaldb.DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg.Clone()
	bad.Driver = "oracle"
	require.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.DSN = ""
	require.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.PollInterval = 0
	require.Error(t, bad.Validate())
}

func TestWriterDrainsAndAcknowledges(t *testing.T) {
	sdb := newTestStateDB(t)
	ctx := context.Background()

	key := fea.Element{4, 0, 0, 0}
	r := sdb.Set(ctx, &statedb.SetRequest{Key: key, Value: "99", Persistent: true})
	require.Equal(t, statedb.CodeSuccess, r.Code)
	require.Equal(t, statedb.CodeSuccess,
		sdb.SetProgram(ctx, fea.Element{0xdd, 0, 0, 0}, []byte("prog"), true))

	id, _, code := sdb.Flush(ctx)
	require.Equal(t, statedb.CodeSuccess, code)

	w := newSQLiteWriter(t, sdb)
	require.NoError(t, w.Drain(ctx))

	st := sdb.GetFlushStatus(ctx)
	require.Equal(t, id, st.StoredFlushID)
	require.Zero(t, st.StoringNodes)
	require.Equal(t, uint64(1), w.BatchesWritten())

	// The recorded root is readable back from SQL.
	root, gotID, err := w.LatestRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, r.NewRoot.Hex(), root)

	// Reads now resolve through the local backend without the pipeline.
	g := sdb.Get(ctx, &statedb.GetRequest{Root: r.NewRoot, Key: key})
	require.Equal(t, statedb.CodeSuccess, g.Code)
	require.Equal(t, "99", g.Value)
}

func TestWriterHandlesEmptyAndRepeatedBatches(t *testing.T) {
	sdb := newTestStateDB(t)
	ctx := context.Background()

	// Empty batch still gets stored and acknowledged.
	id1, _, code := sdb.Flush(ctx)
	require.Equal(t, statedb.CodeSuccess, code)

	w := newSQLiteWriter(t, sdb)
	require.NoError(t, w.Drain(ctx))
	require.Equal(t, id1, sdb.GetFlushStatus(ctx).StoredFlushID)

	// Nothing pending: drain is a no-op.
	require.NoError(t, w.Drain(ctx))
	require.Equal(t, uint64(1), w.BatchesWritten())

	// Two further batches drain in one pass.
	sdb.Set(ctx, &statedb.SetRequest{Key: fea.Element{1, 0, 0, 0}, Value: "1", Persistent: true})
	sdb.Flush(ctx)
	r := sdb.Set(ctx, &statedb.SetRequest{
		OldRoot: sdb.StateRoot(), Key: fea.Element{2, 0, 0, 0}, Value: "2", Persistent: true,
	})
	require.Equal(t, statedb.CodeSuccess, r.Code)
	sdb.Flush(ctx)

	require.NoError(t, w.Drain(ctx))
	require.Equal(t, uint64(3), w.BatchesWritten())
	require.Equal(t, id1+2, sdb.GetFlushStatus(ctx).StoredFlushID)
}
