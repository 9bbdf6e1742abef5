package smt

import "github.com/hashforge/statetried/internal/fea"

// RecomputeRoot folds a proof back into a root hash without touching any
// store. It covers the three shapes a Get proof can take:
//
//   - inclusion: value is non-zero and the proof leaf is (key, value);
//   - exclusion against an empty slot: isOld0 is true and the terminal
//     subtree hash is zero;
//   - exclusion against a different leaf: isOld0 is false and the terminal
//     leaf is (insKey, insValue).
//
// The returned root matching the queried root verifies the proof.
func RecomputeRoot(key, value fea.Element, siblings []fea.Element, isOld0 bool, insKey, insValue fea.Element) fea.Element {
	var h fea.Element
	switch {
	case !value.IsZero():
		h = HashLeaf(key, value)
	case isOld0:
		h = fea.Zero
	default:
		h = HashLeaf(insKey, insValue)
	}

	for i := len(siblings) - 1; i >= 0; i-- {
		if key.Bit(i) == 0 {
			h = HashInternal(h, siblings[i])
		} else {
			h = HashInternal(siblings[i], h)
		}
	}
	return h
}
