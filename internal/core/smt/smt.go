package smt

import (
	"context"
	"fmt"

	"github.com/hashforge/statetried/internal/fea"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// Store is the node source and sink the engine operates over. Fetch must
// return an error satisfying treestore.IsNotFound when the hash is unknown.
// Stage accepts a newly created node; staged nodes must become visible to
// subsequent Fetch calls immediately.
type Store interface {
	Fetch(ctx context.Context, hash fea.Element, rlog *treestore.ReadLog) ([]byte, error)
	Stage(hash fea.Element, data []byte, persistent bool)
}

// Mode reports which mutation case a Set performed.
type Mode string

const (
	// ModeInsert is a leaf created where none stored this key before
	ModeInsert Mode = "insert"
	// ModeUpdate is an existing leaf's value replaced
	ModeUpdate Mode = "update"
	// ModeDelete is an existing leaf removed
	ModeDelete Mode = "delete"
	// ModeNoop is a zero write to an already absent key
	ModeNoop Mode = "noop"
)

// GetResult carries the outcome of a Get: the value (zero when absent) and
// a Merkle inclusion or exclusion proof against the queried root.
type GetResult struct {
	Root  fea.Element
	Key   fea.Element
	Value fea.Element

	// Siblings is the ordered list of sibling hashes along the traversed
	// path, root end first.
	Siblings []fea.Element

	// InsKey and InsValue identify the leaf actually stored at the
	// terminal slot. For a present key they equal Key/Value; for an
	// absent key that collided with a different leaf they identify that
	// leaf, which is what makes the exclusion proof checkable.
	InsKey   fea.Element
	InsValue fea.Element

	// IsOld0 is true when the terminal slot was empty: an insert at this
	// path would be fresh rather than a split against an existing leaf.
	IsOld0 bool

	// ProofHashCounter counts node-hash evaluations the operation
	// performed, for caller-side cost accounting.
	ProofHashCounter int
}

// SetResult carries the outcome of a Set.
type SetResult struct {
	OldRoot fea.Element
	NewRoot fea.Element
	Key     fea.Element

	Siblings []fea.Element
	InsKey   fea.Element
	InsValue fea.Element
	IsOld0   bool

	OldValue fea.Element
	NewValue fea.Element
	Mode     Mode

	ProofHashCounter int
}

// Engine implements Get and Set traversal over a node Store.
// The zero tuple is the designated empty-tree root.
//
// The traversal bit consumed at depth d is key.Bit(d); see fea.Element.Bit
// for the documented order.
type Engine struct {
	store Store
}

// New creates an Engine over the given store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// traversal is the state accumulated while walking from a root toward a key.
type traversal struct {
	siblings  []fea.Element
	depth     int
	empty     bool // terminal slot was empty
	leafHash  fea.Element
	leafKey   fea.Element
	leafValue fea.Element
	hashCount int
}

// walk descends from root along the key's traversal bits until it reaches a
// leaf or an empty slot, collecting sibling hashes.
func (e *Engine) walk(ctx context.Context, root, key fea.Element, rlog *treestore.ReadLog) (*traversal, error) {
	t := &traversal{}
	cur := root

	for {
		if cur.IsZero() {
			t.empty = true
			return t, nil
		}
		if t.depth >= maxDepth {
			return nil, fmt.Errorf("%w: traversal exceeded %d levels", ErrInternal, maxDepth)
		}

		data, err := e.store.Fetch(ctx, cur, rlog)
		if err != nil {
			return nil, err
		}
		n, err := decodeNode(data)
		if err != nil {
			return nil, err
		}
		t.hashCount++

		if n.kind == kindLeaf {
			t.empty = false
			t.leafHash = cur
			t.leafKey = n.key
			t.leafValue = n.value
			return t, nil
		}

		var next, sibling fea.Element
		if key.Bit(t.depth) == 0 {
			next, sibling = n.left, n.right
		} else {
			next, sibling = n.right, n.left
		}
		t.siblings = append(t.siblings, sibling)
		t.depth++
		cur = next
	}
}

// Get looks up key under the given root and returns the value together with
// an inclusion or exclusion proof. The root must be the zero tuple (empty
// tree) or a hash previously produced by this engine.
func (e *Engine) Get(ctx context.Context, root, key fea.Element, rlog *treestore.ReadLog) (*GetResult, error) {
	t, err := e.walk(ctx, root, key, rlog)
	if err != nil {
		return nil, err
	}

	res := &GetResult{
		Root:             root,
		Key:              key,
		Siblings:         t.siblings,
		ProofHashCounter: t.hashCount,
	}

	switch {
	case t.empty:
		res.IsOld0 = true
	case t.leafKey == key:
		res.Value = t.leafValue
		res.InsKey = key
		res.InsValue = t.leafValue
	default:
		res.InsKey = t.leafKey
		res.InsValue = t.leafValue
	}
	return res, nil
}

// Set writes value under key starting from oldRoot and returns the new
// root. A zero value deletes the key. Every node created on the path from
// the changed leaf to the new root is staged into the store with the given
// persistence; nodes reachable from oldRoot are never modified.
func (e *Engine) Set(ctx context.Context, oldRoot, key, value fea.Element, persistent bool, rlog *treestore.ReadLog) (*SetResult, error) {
	t, err := e.walk(ctx, oldRoot, key, rlog)
	if err != nil {
		return nil, err
	}

	res := &SetResult{
		OldRoot:  oldRoot,
		Key:      key,
		Siblings: t.siblings,
		IsOld0:   t.empty,
		NewValue: value,
	}
	if !t.empty {
		if t.leafKey == key {
			res.InsKey = key
			res.InsValue = t.leafValue
		} else {
			res.InsKey = t.leafKey
			res.InsValue = t.leafValue
		}
	}
	hashCount := t.hashCount

	stage := func(data []byte) fea.Element {
		h := hashNode(data)
		hashCount++
		e.store.Stage(h, data, persistent)
		return h
	}

	// fold rebuilds the path bottom-up: h is the subtree hash sitting at
	// depth len(siblings); each level combines it with the recorded
	// sibling on the branch the key selects.
	fold := func(h fea.Element, siblings []fea.Element) fea.Element {
		for i := len(siblings) - 1; i >= 0; i-- {
			if key.Bit(i) == 0 {
				h = stage(encodeInternal(h, siblings[i]))
			} else {
				h = stage(encodeInternal(siblings[i], h))
			}
		}
		return h
	}

	switch {
	case !value.IsZero() && t.empty:
		// Fresh insert into an empty slot.
		res.Mode = ModeInsert
		leafH := stage(encodeLeaf(key, value))
		res.NewRoot = fold(leafH, t.siblings)

	case !value.IsZero() && t.leafKey == key:
		// Value replacement on an existing leaf.
		res.Mode = ModeUpdate
		res.OldValue = t.leafValue
		leafH := stage(encodeLeaf(key, value))
		res.NewRoot = fold(leafH, t.siblings)

	case !value.IsZero():
		// Insert colliding with a different leaf: push both leaves down
		// to the first depth where their traversal bits diverge. The
		// intervening levels gain zero siblings, the diverging level's
		// sibling is the displaced leaf.
		res.Mode = ModeInsert
		d2 := t.depth
		for d2 < maxDepth && key.Bit(d2) == t.leafKey.Bit(d2) {
			d2++
		}
		if d2 >= maxDepth {
			return nil, fmt.Errorf("%w: distinct keys with identical traversal path", ErrInternal)
		}

		ext := make([]fea.Element, d2+1)
		copy(ext, t.siblings)
		ext[d2] = t.leafHash
		res.Siblings = ext

		leafH := stage(encodeLeaf(key, value))
		res.NewRoot = fold(leafH, ext)

	case t.empty || t.leafKey != key:
		// Deleting an absent key leaves the tree untouched.
		res.Mode = ModeNoop
		res.NewRoot = oldRoot

	default:
		// Delete the leaf holding this key.
		res.Mode = ModeDelete
		res.OldValue = t.leafValue

		d := t.depth
		if d == 0 {
			// The leaf was the root: the tree is empty again.
			res.NewRoot = fea.Zero
			break
		}

		sibling := t.siblings[d-1]
		if sibling.IsZero() {
			return nil, fmt.Errorf("%w: leaf at depth %d has empty sibling", ErrInternal, d)
		}

		sibData, err := e.store.Fetch(ctx, sibling, rlog)
		if err != nil {
			return nil, err
		}
		sibNode, err := decodeNode(sibData)
		if err != nil {
			return nil, err
		}
		hashCount++

		if sibNode.kind == kindLeaf {
			// The surviving sibling leaf climbs toward the root while
			// every passed sibling is empty. No new node is needed at
			// the levels it climbs through.
			d2 := d - 1
			for d2 > 0 && t.siblings[d2-1].IsZero() {
				d2--
			}
			res.NewRoot = fold(sibling, t.siblings[:d2])
		} else {
			// Internal sibling: the deleted branch simply becomes empty.
			var h fea.Element
			if key.Bit(d-1) == 0 {
				h = stage(encodeInternal(fea.Zero, sibling))
			} else {
				h = stage(encodeInternal(sibling, fea.Zero))
			}
			res.NewRoot = fold(h, t.siblings[:d-1])
		}
	}

	res.ProofHashCounter = hashCount
	return res, nil
}
