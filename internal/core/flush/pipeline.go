// Package flush buffers staged tree nodes and programs into numbered
// batches and hands them to an external durable writer through a pull
// interface. Batches move PENDING -> STORING -> STORED; identifiers are
// assigned in strictly increasing order and the stored/storing/last
// counters never move backward.
package flush

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/hashforge/statetried/internal/fea"
)

// Record is one content-addressed entry inside a batch.
type Record struct {
	Hash fea.Element
	Data []byte

	// Update marks a re-stage of a hash the durable tier already holds,
	// letting writers skip or upsert instead of blind-inserting.
	Update bool
}

// Batch is an immutable closed set of writes, identified by a flush id.
type Batch struct {
	ID        uint64
	StateRoot fea.Element
	Nodes     []Record
	Programs  []Record
}

// Status is a point-in-time snapshot of the pipeline counters.
type Status struct {
	StoredFlushID       uint64
	StoringFlushID      uint64
	LastFlushID         uint64
	PendingToFlushNodes int
	PendingToFlushProg  int
	StoringNodes        int
	StoringProg         int
	ProverID            string
}

type staged struct {
	data   []byte
	update bool
}

// Pipeline accumulates staged writes and manages batch lifecycle. All
// methods are safe for concurrent use.
type Pipeline struct {
	mu sync.Mutex

	pendingNodes    map[fea.Element]staged
	pendingPrograms map[fea.Element]staged
	stateRoot       fea.Element

	// Non-persistent entries live here for the process lifetime; they are
	// readable like any staged entry but never leave through a batch.
	ephemeralNodes    map[fea.Element][]byte
	ephemeralPrograms map[fea.Element][]byte

	// Closed batches awaiting confirmation, ascending by ID.
	closed []*Batch

	lastFlushID    uint64
	storingFlushID uint64
	storedFlushID  uint64

	proverID string
	journal  *Journal
}

// NewPipeline creates an empty pipeline. journal may be nil to run without
// crash recovery.
func NewPipeline(journal *Journal) *Pipeline {
	return &Pipeline{
		pendingNodes:      make(map[fea.Element]staged),
		pendingPrograms:   make(map[fea.Element]staged),
		ephemeralNodes:    make(map[fea.Element][]byte),
		ephemeralPrograms: make(map[fea.Element][]byte),
		proverID:          newProverID(),
		journal:           journal,
	}
}

// newProverID returns a random 128-bit hex identifier naming this process
// instance in flush status reports.
func newProverID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("flush: reading random prover id: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// Restore seeds the pipeline with journal-replayed batches that were closed
// but never confirmed before a restart. Must be called before any staging.
func (p *Pipeline) Restore(batches []*Batch, lastID, storedID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, batches...)
	p.lastFlushID = lastID
	p.storedFlushID = storedID
	p.storingFlushID = storedID
}

// ProverID returns the instance identifier reported in flush status.
func (p *Pipeline) ProverID() string { return p.proverID }

// StageNode records a tree node for the next batch. Non-persistent nodes
// stay readable through LookupNode but are never flushed.
func (p *Pipeline) StageNode(hash fea.Element, data []byte, persistent, update bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !persistent {
		p.ephemeralNodes[hash] = cloneBytes(data)
		return
	}
	p.pendingNodes[hash] = staged{data: cloneBytes(data), update: update}
}

// StageProgram records a program blob for the next batch.
func (p *Pipeline) StageProgram(hash fea.Element, data []byte, persistent, update bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !persistent {
		p.ephemeralPrograms[hash] = cloneBytes(data)
		return
	}
	p.pendingPrograms[hash] = staged{data: cloneBytes(data), update: update}
}

// SetStateRoot records the latest root the pending writes lead to; it is
// stamped onto the batch at flush time.
func (p *Pipeline) SetStateRoot(root fea.Element) {
	p.mu.Lock()
	p.stateRoot = root
	p.mu.Unlock()
}

// StateRoot returns the most recently recorded root.
func (p *Pipeline) StateRoot() fea.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateRoot
}

// LookupNode returns a staged node that has not yet reached the durable
// tier: pending, ephemeral, or sitting in an unconfirmed batch.
func (p *Pipeline) LookupNode(hash fea.Element) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.pendingNodes[hash]; ok {
		return cloneBytes(s.data), true
	}
	if d, ok := p.ephemeralNodes[hash]; ok {
		return cloneBytes(d), true
	}
	for _, b := range p.closed {
		for i := range b.Nodes {
			if b.Nodes[i].Hash == hash {
				return cloneBytes(b.Nodes[i].Data), true
			}
		}
	}
	return nil, false
}

// LookupProgram is LookupNode for program blobs.
func (p *Pipeline) LookupProgram(hash fea.Element) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.pendingPrograms[hash]; ok {
		return cloneBytes(s.data), true
	}
	if d, ok := p.ephemeralPrograms[hash]; ok {
		return cloneBytes(d), true
	}
	for _, b := range p.closed {
		for i := range b.Programs {
			if b.Programs[i].Hash == hash {
				return cloneBytes(b.Programs[i].Data), true
			}
		}
	}
	return nil, false
}

// Flush closes the pending writes into a new batch and returns its id
// together with the currently stored id. An empty pending set still
// consumes an id, so ids always increase by exactly one per call.
func (p *Pipeline) Flush() (flushID, storedID uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastFlushID++
	b := &Batch{
		ID:        p.lastFlushID,
		StateRoot: p.stateRoot,
		Nodes:     drain(p.pendingNodes),
		Programs:  drain(p.pendingPrograms),
	}
	p.pendingNodes = make(map[fea.Element]staged)
	p.pendingPrograms = make(map[fea.Element]staged)
	p.closed = append(p.closed, b)

	if p.journal != nil {
		if err := p.journal.AppendBatch(b); err != nil {
			return b.ID, p.storedFlushID, err
		}
	}
	return b.ID, p.storedFlushID, nil
}

func drain(m map[fea.Element]staged) []Record {
	if len(m) == 0 {
		return nil
	}
	out := make([]Record, 0, len(m))
	for h, s := range m {
		out = append(out, Record{Hash: h, Data: s.data, Update: s.update})
	}
	return out
}

// GetFlushData hands out a closed batch for durable storage. A flushID of
// zero selects the oldest unconfirmed batch. Repeated calls with the same
// id return the same batch; a nil batch means nothing is waiting.
func (p *Pipeline) GetFlushData(flushID uint64) (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if flushID == 0 {
		if len(p.closed) == 0 {
			return nil, nil
		}
		flushID = p.closed[0].ID
	}
	for _, b := range p.closed {
		if b.ID == flushID {
			if flushID > p.storingFlushID {
				p.storingFlushID = flushID
			}
			return b, nil
		}
	}
	if flushID <= p.storedFlushID {
		return nil, nil
	}
	return nil, ErrUnknownFlushID
}

// Confirm acknowledges that every batch up to and including flushID has
// reached durable storage; the batches are released and the stored counter
// advances. Confirming an already confirmed id is a no-op.
func (p *Pipeline) Confirm(flushID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if flushID <= p.storedFlushID {
		return nil
	}
	if flushID > p.lastFlushID {
		return ErrUnknownFlushID
	}

	i := 0
	for i < len(p.closed) && p.closed[i].ID <= flushID {
		i++
	}
	p.closed = p.closed[i:]
	p.storedFlushID = flushID
	if p.storingFlushID < flushID {
		p.storingFlushID = flushID
	}

	if p.journal != nil {
		return p.journal.AppendAck(flushID)
	}
	return nil
}

// Status snapshots the pipeline counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var storingNodes, storingProg int
	for _, b := range p.closed {
		storingNodes += len(b.Nodes)
		storingProg += len(b.Programs)
	}
	return Status{
		StoredFlushID:       p.storedFlushID,
		StoringFlushID:      p.storingFlushID,
		LastFlushID:         p.lastFlushID,
		PendingToFlushNodes: len(p.pendingNodes),
		PendingToFlushProg:  len(p.pendingPrograms),
		StoringNodes:        storingNodes,
		StoringProg:         storingProg,
		ProverID:            p.proverID,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
