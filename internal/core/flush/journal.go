package flush

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ugorji/go/codec"
)

// ErrUnknownFlushID is returned when a batch id is outside the window the
// pipeline knows about.
var ErrUnknownFlushID = errors.New("flush: unknown flush id")

var cborHandle = func() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}()

const (
	recordBatch = 1
	recordAck   = 2
)

type journalRecord struct {
	Type  uint8  `codec:"t"`
	Batch *Batch `codec:"b,omitempty"`
	AckID uint64 `codec:"a,omitempty"`
}

// Journal is an append-only CBOR log of closed batches and their
// confirmations, used to rebuild the unconfirmed window after a restart.
type Journal struct {
	f   *os.File
	enc *codec.Encoder
}

// OpenJournal opens or creates the journal file at path in append mode.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flush: opening journal: %w", err)
	}
	return &Journal{f: f, enc: codec.NewEncoder(f, cborHandle)}, nil
}

// AppendBatch logs a freshly closed batch and syncs the file.
func (j *Journal) AppendBatch(b *Batch) error {
	if err := j.enc.Encode(journalRecord{Type: recordBatch, Batch: b}); err != nil {
		return fmt.Errorf("flush: journaling batch %d: %w", b.ID, err)
	}
	return j.f.Sync()
}

// AppendAck logs a confirmation for every batch up to flushID.
func (j *Journal) AppendAck(flushID uint64) error {
	if err := j.enc.Encode(journalRecord{Type: recordAck, AckID: flushID}); err != nil {
		return fmt.Errorf("flush: journaling ack %d: %w", flushID, err)
	}
	return j.f.Sync()
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.f.Close()
}

// ReplayJournal reads the journal at path and reconstructs the unconfirmed
// batch window: every logged batch without a covering ack, plus the highest
// assigned and highest confirmed ids. A missing file yields an empty window.
func ReplayJournal(path string) (batches []*Batch, lastID, storedID uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, fmt.Errorf("flush: opening journal for replay: %w", err)
	}
	defer f.Close()

	dec := codec.NewDecoder(f, cborHandle)
	var all []*Batch
	for {
		var rec journalRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A torn tail record from a crash mid-append is expected;
			// everything decoded before it is intact.
			break
		}
		switch rec.Type {
		case recordBatch:
			if rec.Batch != nil {
				all = append(all, rec.Batch)
				if rec.Batch.ID > lastID {
					lastID = rec.Batch.ID
				}
			}
		case recordAck:
			if rec.AckID > storedID {
				storedID = rec.AckID
			}
		}
	}

	for _, b := range all {
		if b.ID > storedID {
			batches = append(batches, b)
		}
	}
	return batches, lastID, storedID, nil
}
