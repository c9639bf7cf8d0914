package catalog

import (
	"fmt"
	"math"
)

// MatchedColumn holds the named column row-gathered from two catalogs at
// matched indices: A[i] and B[i] describe the same physical source.
type MatchedColumn struct {
	A []float64
	B []float64
}

// Len returns the number of matched pairs.
func (m MatchedColumn) Len() int { return len(m.A) }

// ExtractMatchedColumn gathers the named column from each catalog at the
// given matched indices. A non-nil mask compresses both rows identically,
// keeping only pairs where mask is true. Gathering and masking commute.
func ExtractMatchedColumn(name string, catA, catB *Catalog, idxA, idxB []int, mask []bool) (MatchedColumn, error) {
	if len(idxA) != len(idxB) {
		return MatchedColumn{}, fmt.Errorf("%w: %d vs %d", ErrRaggedIndices, len(idxA), len(idxB))
	}
	if mask != nil && len(mask) != len(idxA) {
		return MatchedColumn{}, fmt.Errorf("%w: mask %d, pairs %d", ErrMaskLength, len(mask), len(idxA))
	}

	colA, err := catA.Column(name)
	if err != nil {
		return MatchedColumn{}, err
	}
	colB, err := catB.Column(name)
	if err != nil {
		return MatchedColumn{}, err
	}

	out := MatchedColumn{}
	for i := range idxA {
		if mask != nil && !mask[i] {
			continue
		}
		ia, ib := idxA[i], idxB[i]
		if ia < 0 || ia >= len(colA) || ib < 0 || ib >= len(colB) {
			return MatchedColumn{}, fmt.Errorf("matched index out of range for column %q: pair %d = (%d, %d)", name, i, ia, ib)
		}
		out.A = append(out.A, colA[ia])
		out.B = append(out.B, colB[ib])
	}
	return out, nil
}

// MaskMissingValues builds a boolean mask over the matched pairs that is
// true only where every listed column has a valid (non-NaN) value in both
// catalogs at that pair.
func MaskMissingValues(catA, catB *Catalog, idxA, idxB []int, columns []string) ([]bool, error) {
	if len(idxA) != len(idxB) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrRaggedIndices, len(idxA), len(idxB))
	}

	mask := make([]bool, len(idxA))
	for i := range mask {
		mask[i] = true
	}

	for _, name := range columns {
		matched, err := ExtractMatchedColumn(name, catA, catB, idxA, idxB, nil)
		if err != nil {
			return nil, err
		}
		for i := range mask {
			if math.IsNaN(matched.A[i]) || math.IsNaN(matched.B[i]) {
				mask[i] = false
			}
		}
	}
	return mask, nil
}

// BuildQualityMask combines the quality-flag test with a missing-value
// mask. A pair is good only when the bitwise AND of both catalogs' flag
// values still has every bit of goodBits set, and the pair is not missing
// data. Flag values are float columns by storage convention; they are
// truncated to integers for the bit test.
func BuildQualityMask(flags MatchedColumn, goodBits int, missing []bool) ([]bool, error) {
	if missing != nil && len(missing) != flags.Len() {
		return nil, fmt.Errorf("%w: mask %d, pairs %d", ErrMaskLength, len(missing), flags.Len())
	}

	mask := make([]bool, flags.Len())
	for i := range mask {
		a := int(flags.A[i])
		b := int(flags.B[i])
		good := a&b&goodBits == goodBits
		if missing != nil {
			good = good && missing[i]
		}
		mask[i] = good
	}
	return mask, nil
}

// CountTrue returns the number of true entries in a mask.
func CountTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
