// Package crossmatch aligns two independently-produced source catalogs of
// the same drizzled product (point-source vs segmentation detections) and
// computes on-sky separation and photometric difference statistics for
// the matched pairs.
package crossmatch

import (
	"errors"
	"fmt"
	"math"

	"mosaicqa/internal/align"
	"mosaicqa/internal/catalog"
	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

var (
	// ErrMissingPosition is returned when a catalog lacks the X/Y
	// columns needed for pixel-space matching.
	ErrMissingPosition = errors.New("catalog lacks X/Y position columns")
)

// XYMatcher establishes the 1:1 correspondence between rows of two
// catalogs by spatial proximity in image pixel space. An external matcher
// can replace the built-in one.
type XYMatcher interface {
	Match(catA, catB *catalog.Catalog, wcsA, wcsB *wcs.TanWCS) (idxA, idxB []int, err error)
}

// KDTreeMatcher matches catalog rows by nearest neighbor within a pixel
// tolerance. When the two catalogs were measured on different pixel
// grids, catB's positions are reprojected into catA's grid through the
// two products' WCS.
type KDTreeMatcher struct {
	Tolerance float64 // max pair separation in pixels
}

// NewKDTreeMatcher returns the default pixel-space matcher.
func NewKDTreeMatcher() *KDTreeMatcher {
	return &KDTreeMatcher{Tolerance: 3.0}
}

// Match implements XYMatcher.
func (m *KDTreeMatcher) Match(catA, catB *catalog.Catalog, wcsA, wcsB *wcs.TanWCS) ([]int, []int, error) {
	ptsA, err := positions(catA)
	if err != nil {
		return nil, nil, err
	}
	ptsB, err := positions(catB)
	if err != nil {
		return nil, nil, err
	}

	// Reproject B onto A's grid when the grids differ.
	if wcsA != nil && wcsB != nil && *wcsA != *wcsB {
		for i, p := range ptsB {
			ra, dec := wcsB.PixelToWorld(p.X, p.Y)
			x, y, ok := wcsA.WorldToPixel(ra, dec)
			if !ok {
				ptsB[i] = geometry.Point2D{X: math.NaN(), Y: math.NaN()}
				continue
			}
			ptsB[i] = geometry.Point2D{X: x, Y: y}
		}
	}

	// Rows with unusable positions are dropped before tree construction
	// and mapped back to original row indices afterwards.
	cleanA, mapA := dropNaN(ptsA)
	cleanB, mapB := dropNaN(ptsB)

	rawA, rawB := align.MatchNearest(cleanA, cleanB, m.Tolerance)
	idxA := make([]int, len(rawA))
	idxB := make([]int, len(rawB))
	for i := range rawA {
		idxA[i] = mapA[rawA[i]]
		idxB[i] = mapB[rawB[i]]
	}
	return idxA, idxB, nil
}

// dropNaN filters points with NaN coordinates, returning the kept points
// and a map from filtered position to original row index.
func dropNaN(pts []geometry.Point2D) ([]geometry.Point2D, []int) {
	var clean []geometry.Point2D
	var remap []int
	for i, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		clean = append(clean, p)
		remap = append(remap, i)
	}
	return clean, remap
}

// positions reads the X/Y centroid columns of a catalog, skipping nothing:
// rows with missing positions become NaN points and simply never match.
func positions(cat *catalog.Catalog) ([]geometry.Point2D, error) {
	xcol, err := cat.Column("X")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingPosition, err)
	}
	ycol, err := cat.Column("Y")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingPosition, err)
	}

	pts := make([]geometry.Point2D, len(xcol))
	for i := range xcol {
		pts[i] = geometry.Point2D{X: xcol[i], Y: ycol[i]}
	}
	return pts, nil
}
