package statedb

import (
	"context"

	"github.com/hashforge/statetried/internal/core/flush"
	"github.com/hashforge/statetried/internal/fea"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// nodeStore layers the flush pipeline's staging area over the two-tier
// node database, giving the engine one lookup surface. Lookup order is
// staged writes first, then cache, then backend; only backend reads land
// in the read log.
type nodeStore struct {
	db       *treestore.Database
	pipeline *flush.Pipeline
}

func (s *nodeStore) Fetch(ctx context.Context, hash fea.Element, rlog *treestore.ReadLog) ([]byte, error) {
	if data, ok := s.pipeline.LookupNode(hash); ok {
		return data, nil
	}
	return s.db.Fetch(ctx, treestore.Key(hash.Bytes()), rlog)
}

func (s *nodeStore) Stage(hash fea.Element, data []byte, persistent bool) {
	// A hash the committed tiers already hold is a re-stage and reaches
	// the durable writer as an update rather than an insert.
	update := s.db.Cached(treestore.Key(hash.Bytes()))
	s.pipeline.StageNode(hash, data, persistent, update)
}
