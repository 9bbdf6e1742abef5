package relationaldb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/hashforge/statetried/internal/core/smt"
	"github.com/hashforge/statetried/internal/statedb"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// Writer drains closed flush batches: each batch is written to the SQL
// database in one transaction, committed into the local backend so future
// reads resolve without the pipeline, and then acknowledged. It is the
// sole consumer of GetFlushData in a running node.
type Writer struct {
	cfg *Config
	sdb *statedb.StateDB
	db  *sql.DB

	batchesWritten uint64
}

// NewWriter connects to the configured SQL database and bootstraps the
// schema.
func NewWriter(ctx context.Context, cfg *Config, sdb *statedb.StateDB) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg.Clone(), sdb: sdb, db: db}, nil
}

// Run drains batches until the context is cancelled, sleeping PollInterval
// between empty pulls. Failed batches are retried on the next tick; pulls
// are idempotent, so a crash between SQL commit and acknowledgement only
// re-upserts the same content.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Drain(ctx); err != nil {
			log.Printf("relationaldb: drain failed, will retry: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain pulls and stores batches until none is waiting.
func (w *Writer) Drain(ctx context.Context) error {
	for {
		fd := w.sdb.GetFlushData(ctx, 0)
		if fd.Code != statedb.CodeSuccess {
			return fmt.Errorf("pulling flush data: %s", fd.Code)
		}
		if fd.FlushID == 0 {
			return nil
		}
		if err := w.storeBatch(ctx, fd); err != nil {
			return fmt.Errorf("storing batch %d: %w", fd.FlushID, err)
		}
		if code := w.sdb.ConfirmFlush(ctx, fd.FlushID); code != statedb.CodeSuccess {
			return fmt.Errorf("confirming batch %d: %s", fd.FlushID, code)
		}
		w.batchesWritten++
	}
}

// storeBatch writes one batch transactionally to SQL and fills the local
// backend.
func (w *Writer) storeBatch(ctx context.Context, fd *statedb.FlushData) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var nodeEntries, progEntries []treestore.Entry

	upsertNode := rebind(w.cfg.Driver,
		`INSERT INTO state_nodes (hash, data) VALUES ($1, $2)
		 ON CONFLICT (hash) DO UPDATE SET data = excluded.data`)
	for _, m := range []map[string][]uint64{fd.NodesInsert, fd.NodesUpdate} {
		for hash, limbs := range m {
			data, err := smt.NodeFromLimbs(limbs)
			if err != nil {
				return fmt.Errorf("decoding node %s: %w", hash, err)
			}
			if _, err := tx.ExecContext(ctx, upsertNode, hash, data); err != nil {
				return fmt.Errorf("upserting node %s: %w", hash, err)
			}
			key, err := parseKey(hash)
			if err != nil {
				return err
			}
			nodeEntries = append(nodeEntries, treestore.Entry{Key: key, Data: data})
		}
	}

	upsertProg := rebind(w.cfg.Driver,
		`INSERT INTO state_programs (hash, data) VALUES ($1, $2)
		 ON CONFLICT (hash) DO UPDATE SET data = excluded.data`)
	for _, m := range []map[string][]byte{fd.ProgramsInsert, fd.ProgramsUpdate} {
		for hash, data := range m {
			if _, err := tx.ExecContext(ctx, upsertProg, hash, data); err != nil {
				return fmt.Errorf("upserting program %s: %w", hash, err)
			}
			key, err := parseKey(hash)
			if err != nil {
				return err
			}
			progEntries = append(progEntries, treestore.Entry{Key: key, Data: data})
		}
	}

	upsertRoot := rebind(w.cfg.Driver,
		`INSERT INTO state_roots (flush_id, state_root) VALUES ($1, $2)
		 ON CONFLICT (flush_id) DO UPDATE SET state_root = excluded.state_root`)
	if _, err := tx.ExecContext(ctx, upsertRoot, int64(fd.FlushID), fd.StateRoot.Hex()); err != nil {
		return fmt.Errorf("recording root for batch %d: %w", fd.FlushID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	// SQL holds the batch now; mirror it into the local backend so reads
	// no longer depend on the pipeline retaining it.
	if len(nodeEntries) > 0 {
		if err := w.sdb.Nodes().Commit(nodeEntries); err != nil {
			return fmt.Errorf("committing nodes locally: %w", err)
		}
	}
	if len(progEntries) > 0 {
		if err := w.sdb.Programs().Commit(progEntries); err != nil {
			return fmt.Errorf("committing programs locally: %w", err)
		}
	}
	return nil
}

// LatestRoot reads back the state root recorded for the highest flush id.
func (w *Writer) LatestRoot(ctx context.Context) (string, uint64, error) {
	row := w.db.QueryRowContext(ctx, rebind(w.cfg.Driver,
		`SELECT flush_id, state_root FROM state_roots ORDER BY flush_id DESC LIMIT 1`))
	var id int64
	var root string
	if err := row.Scan(&id, &root); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("reading latest root: %w", err)
	}
	return root, uint64(id), nil
}

// BatchesWritten reports how many batches this writer has acknowledged.
func (w *Writer) BatchesWritten() uint64 { return w.batchesWritten }

// Close releases the SQL connection pool.
func (w *Writer) Close() error {
	return w.db.Close()
}

func parseKey(hash string) (treestore.Key, error) {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != 32 {
		return treestore.Key{}, fmt.Errorf("malformed hash key %q", hash)
	}
	var k treestore.Key
	copy(k[:], raw)
	return k, nil
}
