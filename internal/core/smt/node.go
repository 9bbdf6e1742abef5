// Package smt implements a sparse Merkle tree over a content-addressed node
// store. Nodes are immutable: a mutation creates new nodes along the path
// from the changed leaf to the root and shares every unaffected subtree with
// prior versions, so any number of historical roots stay readable
// concurrently.
package smt

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/hashforge/statetried/internal/fea"
)

// Node kind tags, the first byte of every serialized node.
const (
	tagInternal byte = 0x01
	tagLeaf     byte = 0x02
)

// nodeSize is the serialized size of every node: one tag byte plus two
// 32-byte tuples (left/right children, or key/value).
const nodeSize = 65

// maxDepth is the number of traversal levels, one per key bit.
const maxDepth = 256

var (
	// ErrInvalidDataSize indicates a stored node whose serialized form has
	// the wrong size or an unknown tag.
	ErrInvalidDataSize = errors.New("invalid node data size")

	// ErrInternal indicates a violated traversal invariant.
	ErrInternal = errors.New("internal tree invariant violated")
)

// nodeKind distinguishes decoded node types.
type nodeKind int

const (
	kindInternal nodeKind = iota
	kindLeaf
)

// node is a decoded tree node. Internal nodes carry the two child hashes;
// leaf nodes carry the stored key and value.
type node struct {
	kind  nodeKind
	left  fea.Element // internal: child for traversal bit 0
	right fea.Element // internal: child for traversal bit 1
	key   fea.Element // leaf
	value fea.Element // leaf
}

// encodeInternal serializes an internal node.
func encodeInternal(left, right fea.Element) []byte {
	out := make([]byte, nodeSize)
	out[0] = tagInternal
	lb := left.Bytes()
	rb := right.Bytes()
	copy(out[1:33], lb[:])
	copy(out[33:65], rb[:])
	return out
}

// encodeLeaf serializes a leaf node.
func encodeLeaf(key, value fea.Element) []byte {
	out := make([]byte, nodeSize)
	out[0] = tagLeaf
	kb := key.Bytes()
	vb := value.Bytes()
	copy(out[1:33], kb[:])
	copy(out[33:65], vb[:])
	return out
}

// decodeNode parses a serialized node. Any size or tag deviation is
// ErrInvalidDataSize: stored nodes have exactly one canonical form.
func decodeNode(data []byte) (node, error) {
	if len(data) != nodeSize {
		return node{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidDataSize, nodeSize, len(data))
	}

	var a, b [32]byte
	copy(a[:], data[1:33])
	copy(b[:], data[33:65])

	switch data[0] {
	case tagInternal:
		return node{kind: kindInternal, left: fea.FromBytes(a), right: fea.FromBytes(b)}, nil
	case tagLeaf:
		return node{kind: kindLeaf, key: fea.FromBytes(a), value: fea.FromBytes(b)}, nil
	default:
		return node{}, fmt.Errorf("%w: unknown node tag %d", ErrInvalidDataSize, data[0])
	}
}

// hashNode computes the content hash of a serialized node: SHA-256 over the
// full serialized form, split big-endian into four limbs.
func hashNode(data []byte) fea.Element {
	return fea.FromBytes(sha256.Sum256(data))
}

// HashLeaf returns the node hash a leaf with the given key and value would
// have. Exported for proof verification.
func HashLeaf(key, value fea.Element) fea.Element {
	return hashNode(encodeLeaf(key, value))
}

// HashInternal returns the node hash an internal node with the given
// children would have. Exported for proof verification.
func HashInternal(left, right fea.Element) fea.Element {
	return hashNode(encodeInternal(left, right))
}

// NodeToLimbs converts a serialized node into its limb representation for
// the bulk-import interface: the tag followed by the eight 64-bit limbs of
// the two tuples, least significant limb first.
func NodeToLimbs(data []byte) ([]uint64, error) {
	n, err := decodeNode(data)
	if err != nil {
		return nil, err
	}

	var a, b fea.Element
	if n.kind == kindInternal {
		a, b = n.left, n.right
	} else {
		a, b = n.key, n.value
	}

	out := make([]uint64, 0, 9)
	out = append(out, uint64(data[0]))
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	return out, nil
}

// NodeFromLimbs rebuilds a serialized node from its limb representation.
func NodeFromLimbs(limbs []uint64) ([]byte, error) {
	if len(limbs) != 9 {
		return nil, fmt.Errorf("%w: expected 9 limbs, got %d", ErrInvalidDataSize, len(limbs))
	}

	tag := byte(limbs[0])
	if tag != tagInternal && tag != tagLeaf {
		return nil, fmt.Errorf("%w: unknown node tag %d", ErrInvalidDataSize, tag)
	}

	var a, b fea.Element
	copy(a[:], limbs[1:5])
	copy(b[:], limbs[5:9])

	if tag == tagInternal {
		return encodeInternal(a, b), nil
	}
	return encodeLeaf(a, b), nil
}
