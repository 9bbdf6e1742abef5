// Package fea implements the four-limb field element tuple used throughout
// the state trie: tree keys, node hashes, roots, and leaf values are all
// 256-bit quantities expressed as four unsigned 64-bit limbs.
package fea

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Element is a 256-bit value stored as four 64-bit limbs.
// Limb 0 holds the least significant 64 bits.
// Element is an immutable value type; equality is limb-wise (==).
type Element [4]uint64

// Zero is the all-zero element. It doubles as the empty-tree root hash.
var Zero = Element{}

// maxElement is 2^256 - 1, the largest representable value.
var maxElement = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsZero returns true if all four limbs are zero.
func (e Element) IsZero() bool {
	return e[0] == 0 && e[1] == 0 && e[2] == 0 && e[3] == 0
}

// Bit returns the traversal bit consumed at the given tree depth.
// The bit for depth d is bit (d/4) of limb d%4: limbs are consumed
// round-robin, least significant bit first within each limb. This is the
// single documented traversal order for the whole engine; depth must be
// in [0, 255].
func (e Element) Bit(depth int) uint8 {
	return uint8((e[depth&3] >> uint(depth>>2)) & 1)
}

// Bytes returns the fixed 32-byte big-endian representation.
func (e Element) Bytes() [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[0:8], e[3])
	binary.BigEndian.PutUint64(out[8:16], e[2])
	binary.BigEndian.PutUint64(out[16:24], e[1])
	binary.BigEndian.PutUint64(out[24:32], e[0])
	return out
}

// FromBytes builds an Element from a 32-byte big-endian representation.
func FromBytes(b [32]byte) Element {
	return Element{
		binary.BigEndian.Uint64(b[24:32]),
		binary.BigEndian.Uint64(b[16:24]),
		binary.BigEndian.Uint64(b[8:16]),
		binary.BigEndian.Uint64(b[0:8]),
	}
}

// Big returns the element as a non-negative big integer.
func (e Element) Big() *big.Int {
	b := e.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// FromBig converts a big integer into an Element.
// The value must be non-negative and fit in 256 bits.
func FromBig(v *big.Int) (Element, error) {
	if v.Sign() < 0 {
		return Zero, fmt.Errorf("negative value not representable: %s", v)
	}
	if v.Cmp(maxElement) > 0 {
		return Zero, fmt.Errorf("value exceeds 256 bits: %s", v)
	}
	var b [32]byte
	v.FillBytes(b[:])
	return FromBytes(b), nil
}

// FromDecimalString parses a base-10 encoded 256-bit value.
// An empty string is treated as zero, matching the wire convention that
// absent values are zero.
func FromDecimalString(s string) (Element, error) {
	if s == "" {
		return Zero, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero, fmt.Errorf("invalid decimal value: %q", s)
	}
	return FromBig(v)
}

// DecimalString returns the base-10 encoding of the element.
func (e Element) DecimalString() string {
	return e.Big().String()
}

// Hex returns the 64-character lowercase hex encoding of the big-endian
// bytes. This is the canonical store-key and read-log key form.
func (e Element) Hex() string {
	b := e.Bytes()
	return hex.EncodeToString(b[:])
}

// FromHex parses a hex string produced by Hex. Shorter strings are
// zero-padded on the left; an optional "0x" prefix is accepted.
func FromHex(s string) (Element, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) > 64 {
		return Zero, fmt.Errorf("hex value too long: %d chars", len(s))
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid hex value: %w", err)
	}
	var b [32]byte
	copy(b[32-len(raw):], raw)
	return FromBytes(b), nil
}

// String implements fmt.Stringer using the hex form.
func (e Element) String() string {
	return e.Hex()
}
