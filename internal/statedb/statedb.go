// Package statedb exposes the state-trie service surface: keyed reads and
// writes against the sparse Merkle tree, program blob storage, bulk
// imports, and the flush lifecycle operations a durable writer drives.
package statedb

import (
	"context"
	"sync"

	"github.com/hashforge/statetried/internal/core/flush"
	"github.com/hashforge/statetried/internal/core/smt"
	"github.com/hashforge/statetried/internal/fea"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// SetRequest is the input to Set. Value is a base-10 string; an empty or
// "0" value deletes the key.
type SetRequest struct {
	OldRoot    fea.Element
	Key        fea.Element
	Value      string
	Persistent bool

	// Details=false trims the response to the new root and the code.
	Details bool

	// GetDBReadLog asks for the backend entries the traversal consulted.
	GetDBReadLog bool
}

// SetResult is the outcome of a Set.
type SetResult struct {
	Code ResultCode

	OldRoot fea.Element
	NewRoot fea.Element
	Key     fea.Element

	Siblings []fea.Element
	InsKey   fea.Element
	InsValue fea.Element
	IsOld0   bool

	OldValue string
	NewValue string
	Mode     string

	ProofHashCounter int
	DBReadLog        map[string][]byte
}

// GetRequest is the input to Get.
type GetRequest struct {
	Root         fea.Element
	Key          fea.Element
	Details      bool
	GetDBReadLog bool
}

// GetResult is the outcome of a Get.
type GetResult struct {
	Code ResultCode

	Root  fea.Element
	Key   fea.Element
	Value string

	Siblings []fea.Element
	InsKey   fea.Element
	InsValue fea.Element
	IsOld0   bool

	ProofHashCounter int
	DBReadLog        map[string][]byte
}

// FlushData is one closed batch as handed to the durable writer. Node
// payloads travel as limb lists, programs as raw bytes; map keys are the
// 64-character hex hashes.
type FlushData struct {
	Code ResultCode

	FlushID       uint64
	StoredFlushID uint64
	StateRoot     fea.Element

	NodesInsert    map[string][]uint64
	NodesUpdate    map[string][]uint64
	ProgramsInsert map[string][]byte
	ProgramsUpdate map[string][]byte

	ProverID string
}

// StateDB wires the trie engine, the node and program stores, and the
// flush pipeline into the service operations.
type StateDB struct {
	engine   *smt.Engine
	nodes    *treestore.Database
	programs *treestore.Database
	pipeline *flush.Pipeline

	// writeMu serializes staging: tree computation runs lock-free over
	// immutable nodes, but appends to the pending batch are exclusive.
	writeMu sync.Mutex
}

// New wires a StateDB over the given stores and pipeline.
func New(nodes, programs *treestore.Database, pipeline *flush.Pipeline) *StateDB {
	s := &StateDB{
		nodes:    nodes,
		programs: programs,
		pipeline: pipeline,
	}
	s.engine = smt.New(&nodeStore{db: nodes, pipeline: pipeline})
	return s
}

// Set writes a value under a key starting from the given root. The staged
// nodes join the pending flush batch unless Persistent is false.
func (s *StateDB) Set(ctx context.Context, req *SetRequest) *SetResult {
	value, err := fea.FromDecimalString(req.Value)
	if err != nil {
		return &SetResult{Code: CodeInvalidDataSize, OldRoot: req.OldRoot}
	}

	var rlog *treestore.ReadLog
	if req.GetDBReadLog {
		rlog = treestore.NewReadLog()
	}

	s.writeMu.Lock()
	er, err := s.engine.Set(ctx, req.OldRoot, req.Key, value, req.Persistent, rlog)
	if err == nil && req.OldRoot == s.pipeline.StateRoot() {
		// Sets advancing the tracked head move the root stamped onto
		// the next batch; historical-root writes leave it alone.
		s.pipeline.SetStateRoot(er.NewRoot)
	}
	s.writeMu.Unlock()

	if err != nil {
		return &SetResult{Code: codeForError(err), OldRoot: req.OldRoot}
	}

	res := &SetResult{
		Code:    CodeSuccess,
		OldRoot: er.OldRoot,
		NewRoot: er.NewRoot,
	}
	if req.Details {
		res.Key = er.Key
		res.Siblings = er.Siblings
		res.InsKey = er.InsKey
		res.InsValue = er.InsValue
		res.IsOld0 = er.IsOld0
		res.OldValue = er.OldValue.DecimalString()
		res.NewValue = er.NewValue.DecimalString()
		res.Mode = string(er.Mode)
		res.ProofHashCounter = er.ProofHashCounter
	}
	if rlog != nil {
		res.DBReadLog = rlog.Entries()
	}
	return res
}

// Get looks a key up under a root and returns the value with its proof.
func (s *StateDB) Get(ctx context.Context, req *GetRequest) *GetResult {
	var rlog *treestore.ReadLog
	if req.GetDBReadLog {
		rlog = treestore.NewReadLog()
	}

	er, err := s.engine.Get(ctx, req.Root, req.Key, rlog)
	if err != nil {
		return &GetResult{Code: codeForError(err), Root: req.Root}
	}

	res := &GetResult{
		Code:  CodeSuccess,
		Root:  er.Root,
		Value: er.Value.DecimalString(),
	}
	if req.Details {
		res.Key = er.Key
		res.Siblings = er.Siblings
		res.InsKey = er.InsKey
		res.InsValue = er.InsValue
		res.IsOld0 = er.IsOld0
		res.ProofHashCounter = er.ProofHashCounter
	}
	if rlog != nil {
		res.DBReadLog = rlog.Entries()
	}
	return res
}

// SetProgram stores a program blob under its hash.
func (s *StateDB) SetProgram(ctx context.Context, key fea.Element, data []byte, persistent bool) ResultCode {
	if len(data) == 0 {
		return CodeInvalidDataSize
	}
	s.writeMu.Lock()
	update := s.programs.Cached(treestore.Key(key.Bytes()))
	s.pipeline.StageProgram(key, data, persistent, update)
	s.writeMu.Unlock()
	return CodeSuccess
}

// GetProgram fetches a program blob by hash: staged writes first, then the
// two-tier store.
func (s *StateDB) GetProgram(ctx context.Context, key fea.Element) ([]byte, ResultCode) {
	if data, ok := s.pipeline.LookupProgram(key); ok {
		return data, CodeSuccess
	}
	data, err := s.programs.Fetch(ctx, treestore.Key(key.Bytes()), nil)
	if err != nil {
		return nil, codeForError(err)
	}
	return data, CodeSuccess
}

// LoadDB bulk-imports externally supplied nodes, keyed by hex hash with
// limb-list payloads. Supplied hashes are trusted as-is; an entry whose
// hash does not match its content poisons any tree that references it.
func (s *StateDB) LoadDB(ctx context.Context, entries map[string][]uint64, persistent bool) ResultCode {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for hexKey, limbs := range entries {
		hash, err := fea.FromHex(hexKey)
		if err != nil {
			return CodeInvalidDataSize
		}
		data, err := smt.NodeFromLimbs(limbs)
		if err != nil {
			return codeForError(err)
		}
		if persistent {
			update := s.nodes.Cached(treestore.Key(hash.Bytes()))
			s.pipeline.StageNode(hash, data, true, update)
		}
		s.nodes.Fill(treestore.Key(hash.Bytes()), data)
	}
	return CodeSuccess
}

// LoadProgramDB bulk-imports program blobs keyed by hex hash.
func (s *StateDB) LoadProgramDB(ctx context.Context, entries map[string][]byte, persistent bool) ResultCode {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for hexKey, data := range entries {
		hash, err := fea.FromHex(hexKey)
		if err != nil {
			return CodeInvalidDataSize
		}
		if len(data) == 0 {
			return CodeInvalidDataSize
		}
		if persistent {
			update := s.programs.Cached(treestore.Key(hash.Bytes()))
			s.pipeline.StageProgram(hash, data, true, update)
		}
		s.programs.Fill(treestore.Key(hash.Bytes()), data)
	}
	return CodeSuccess
}

// Flush closes the pending batch and returns its id with the latest
// durably stored id. It performs no durable I/O itself.
func (s *StateDB) Flush(ctx context.Context) (flushID, storedFlushID uint64, code ResultCode) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	flushID, storedFlushID, err := s.pipeline.Flush()
	if err != nil {
		return flushID, storedFlushID, CodeDBError
	}
	return flushID, storedFlushID, CodeSuccess
}

// GetFlushStatus snapshots the pipeline counters.
func (s *StateDB) GetFlushStatus(ctx context.Context) flush.Status {
	return s.pipeline.Status()
}

// GetFlushData hands a closed batch to the durable writer, split into
// insert and update lists. FlushID zero selects the oldest unacknowledged
// batch; if nothing is waiting the result carries the current stored id
// and empty lists.
func (s *StateDB) GetFlushData(ctx context.Context, flushID uint64) *FlushData {
	batch, err := s.pipeline.GetFlushData(flushID)
	if err != nil {
		return &FlushData{Code: codeForError(err)}
	}

	status := s.pipeline.Status()
	out := &FlushData{
		Code:           CodeSuccess,
		StoredFlushID:  status.StoredFlushID,
		ProverID:       status.ProverID,
		NodesInsert:    make(map[string][]uint64),
		NodesUpdate:    make(map[string][]uint64),
		ProgramsInsert: make(map[string][]byte),
		ProgramsUpdate: make(map[string][]byte),
	}
	if batch == nil {
		return out
	}

	out.FlushID = batch.ID
	out.StateRoot = batch.StateRoot
	for _, rec := range batch.Nodes {
		limbs, err := smt.NodeToLimbs(rec.Data)
		if err != nil {
			return &FlushData{Code: codeForError(err)}
		}
		if rec.Update {
			out.NodesUpdate[rec.Hash.Hex()] = limbs
		} else {
			out.NodesInsert[rec.Hash.Hex()] = limbs
		}
	}
	for _, rec := range batch.Programs {
		if rec.Update {
			out.ProgramsUpdate[rec.Hash.Hex()] = rec.Data
		} else {
			out.ProgramsInsert[rec.Hash.Hex()] = rec.Data
		}
	}
	return out
}

// ConfirmFlush acknowledges durable storage of every batch up to and
// including flushID and releases the held batches.
func (s *StateDB) ConfirmFlush(ctx context.Context, flushID uint64) ResultCode {
	if err := s.pipeline.Confirm(flushID); err != nil {
		return codeForError(err)
	}
	return CodeSuccess
}

// StateRoot reports the root the pipeline currently tracks as head.
func (s *StateDB) StateRoot() fea.Element {
	return s.pipeline.StateRoot()
}

// Nodes exposes the node database for the durable writer's local commit.
func (s *StateDB) Nodes() *treestore.Database { return s.nodes }

// Programs exposes the program database for the durable writer.
func (s *StateDB) Programs() *treestore.Database { return s.programs }
