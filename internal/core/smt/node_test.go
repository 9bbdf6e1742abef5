package smt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashforge/statetried/internal/fea"
)

func TestNodeEncodingRoundTrip(t *testing.T) {
	left := fea.Element{1, 2, 3, 4}
	right := fea.Element{5, 6, 7, 8}

	data := encodeInternal(left, right)
	require.Len(t, data, nodeSize)

	n, err := decodeNode(data)
	require.NoError(t, err)
	require.Equal(t, kindInternal, n.kind)
	require.Equal(t, left, n.left)
	require.Equal(t, right, n.right)

	key := fea.Element{9, 0, 0, 0}
	value := fea.Element{0, 0, 0, 42}
	data = encodeLeaf(key, value)
	n, err = decodeNode(data)
	require.NoError(t, err)
	require.Equal(t, kindLeaf, n.kind)
	require.Equal(t, key, n.key)
	require.Equal(t, value, n.value)
}

func TestDecodeNodeRejectsMalformed(t *testing.T) {
	testcases := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: make([]byte, nodeSize-1)},
		{name: "long", data: make([]byte, nodeSize+1)},
		{name: "bad tag", data: append([]byte{0x7f}, make([]byte, nodeSize-1)...)},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeNode(tc.data)
			require.ErrorIs(t, err, ErrInvalidDataSize)
		})
	}
}

func TestHashIsContentAddress(t *testing.T) {
	a := HashInternal(fea.Element{1, 0, 0, 0}, fea.Zero)
	b := HashInternal(fea.Element{1, 0, 0, 0}, fea.Zero)
	require.Equal(t, a, b)

	// Leaf and internal encodings of the same tuples hash apart.
	c := HashLeaf(fea.Element{1, 0, 0, 0}, fea.Zero)
	require.NotEqual(t, a, c)
}

func TestLimbsRoundTrip(t *testing.T) {
	data := encodeLeaf(fea.Element{1, 2, 3, 4}, fea.Element{5, 6, 7, 8})

	limbs, err := NodeToLimbs(data)
	require.NoError(t, err)

	back, err := NodeFromLimbs(limbs)
	require.NoError(t, err)
	require.Equal(t, data, back)

	_, err = NodeFromLimbs(limbs[:3])
	require.ErrorIs(t, err, ErrInvalidDataSize)
}
