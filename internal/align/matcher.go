package align

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/kdtree"

	"mosaicqa/pkg/geometry"
)

// TanPlaneMatcher is the built-in Matcher: nearest-neighbor
// correspondence in the tangent plane followed by a least-squares affine
// fit with iterative outlier rejection. Parameters mirror the matcher the
// pipeline was tuned against on well-aligned mosaics.
type TanPlaneMatcher struct {
	SearchRadius float64 // max pair separation in tangent-plane pixels
	MinMatches   int     // fewer matches than this fails the group
	RejectSigma  float64
	RejectIters  int
	Logger       *logrus.Logger
}

// NewTanPlaneMatcher returns a matcher with the pipeline defaults.
func NewTanPlaneMatcher(logger *logrus.Logger) *TanPlaneMatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TanPlaneMatcher{
		SearchRadius: 5.0,
		MinMatches:   4,
		RejectSigma:  3.0,
		RejectIters:  3,
		Logger:       logger,
	}
}

// group is the working state for one distinct group name.
type group struct {
	name  string
	id    int
	chips []*ChipRecord
}

// AlignGroups matches every non-reference group against the reference
// catalog and fits its alignment. The first distinct group name supplies
// the reference catalog; its chips are tagged StatusReference. All chips
// of a group share one FitResult.
func (m *TanPlaneMatcher) AlignGroups(ctx context.Context, chips []*ChipRecord) error {
	if len(chips) == 0 {
		return ErrNoChips
	}

	groups := collectGroups(chips)
	if len(groups) < 2 {
		return ErrNoReference
	}

	// Reference world buffer: the first group's catalogs on the sky, in
	// chip order. MatchedRefIdx values index this concatenated buffer.
	ref := groups[0]
	refFit := &FitResult{Status: StatusReference}
	var refRA, refDec []float64
	for _, chip := range ref.chips {
		chip.Fit = refFit
		ras, decs := chip.WCS.DetToWorld(xsOf(chip.Catalog), ysOf(chip.Catalog))
		refRA = append(refRA, ras...)
		refDec = append(refDec, decs...)
	}
	m.Logger.WithFields(logrus.Fields{
		"reference": ref.name,
		"sources":   len(refRA),
	}).Debug("reference catalog accumulated")

	for _, g := range groups[1:] {
		select {
		case <-ctx.Done():
			return fmt.Errorf("alignment of %s: %w", g.name, ctx.Err())
		default:
		}
		if err := m.alignGroup(g, refRA, refDec); err != nil {
			return fmt.Errorf("alignment of %s: %w", g.name, err)
		}
	}
	return nil
}

// alignGroup matches and fits one image group against the reference sky
// buffer. A group that cannot be matched gets StatusFailed; only solver
// contract problems surface as errors.
func (m *TanPlaneMatcher) alignGroup(g *group, refRA, refDec []float64) error {
	fit := &FitResult{Status: StatusFailed}
	for _, chip := range g.chips {
		chip.Fit = fit
	}

	// The group's concatenated catalog in tangent-plane pixels, plus the
	// chip owning each concatenated index (its WCS defines the local
	// tangent frame for that source).
	var imgPts []geometry.Point2D
	var owner []*ChipRecord
	for _, chip := range g.chips {
		ras, decs := chip.WCS.DetToWorld(xsOf(chip.Catalog), ysOf(chip.Catalog))
		xs, ys := chip.WCS.WorldToTanp(ras, decs)
		for i := range xs {
			imgPts = append(imgPts, geometry.Point2D{X: xs[i], Y: ys[i]})
			owner = append(owner, chip)
		}
	}
	if len(imgPts) == 0 {
		m.Logger.WithField("group", g.name).Warn("group has no detected sources")
		return nil
	}

	// Project the reference catalog into the group's tangent frame for
	// matching. The frames of adjacent dithered exposures agree to well
	// under the search radius, so one chip's frame serves the whole group.
	frame := g.chips[0].WCS
	refXs, refYs := frame.WorldToTanp(refRA, refDec)
	refPts := make([]geometry.Point2D, 0, len(refXs))
	refIdx := make([]int, 0, len(refXs))
	for i := range refXs {
		if math.IsNaN(refXs[i]) || math.IsNaN(refYs[i]) {
			continue
		}
		refPts = append(refPts, geometry.Point2D{X: refXs[i], Y: refYs[i]})
		refIdx = append(refIdx, i)
	}

	inputIdx, refMatch := MatchNearest(imgPts, refPts, m.SearchRadius)
	if len(inputIdx) < m.MinMatches {
		m.Logger.WithFields(logrus.Fields{
			"group":   g.name,
			"matches": len(inputIdx),
		}).Warn("too few cross-identifications, fit failed")
		return nil
	}

	src := make([]geometry.Point2D, len(inputIdx))
	dst := make([]geometry.Point2D, len(inputIdx))
	for i := range inputIdx {
		src[i] = imgPts[inputIdx[i]]
		dst[i] = refPts[refMatch[i]]
	}

	transform, mask, err := fitWithRejection(src, dst, m.RejectSigma, m.RejectIters)
	if err != nil {
		return err
	}

	rot, scale, skew := transform.Decompose()
	fit.Status = StatusSuccess
	fit.Shift = [2]float64{transform.TX, transform.TY}
	fit.Rot = rot
	fit.Scale = scale
	fit.Skew = skew
	fit.FitMask = mask
	fit.MatchedInputIdx = inputIdx
	fit.MatchedRefIdx = make([]int, len(refMatch))
	for i, ri := range refMatch {
		fit.MatchedRefIdx[i] = refIdx[ri]
	}

	// Fitted sky positions of the masked matched input sources, in mask
	// order: transform each source in the tangent plane, then lift back
	// to the sky through its owning chip.
	for i := range inputIdx {
		if !mask[i] {
			continue
		}
		fitted := transform.Apply(src[i])
		chip := owner[inputIdx[i]]
		ras, decs := chip.WCS.TanpToWorld([]float64{fitted.X}, []float64{fitted.Y})
		fit.FitRA = append(fit.FitRA, ras[0])
		fit.FitDec = append(fit.FitDec, decs[0])
		fit.NMatches++
	}

	m.Logger.WithFields(logrus.Fields{
		"group":    g.name,
		"nmatches": fit.NMatches,
		"xsh":      fit.Shift[0],
		"ysh":      fit.Shift[1],
		"rot":      fit.Rot,
	}).Info("group aligned")
	return nil
}

// collectGroups buckets chips by group name, preserving first-appearance
// order, and assigns sequential group ids where the caller left them zero.
func collectGroups(chips []*ChipRecord) []*group {
	var groups []*group
	index := map[string]*group{}
	nextID := 1
	for _, chip := range chips {
		g, ok := index[chip.GroupName]
		if !ok {
			g = &group{name: chip.GroupName, id: nextID}
			nextID++
			index[chip.GroupName] = g
			groups = append(groups, g)
		}
		if chip.GroupID == 0 {
			chip.GroupID = g.id
		} else {
			g.id = chip.GroupID
		}
		g.chips = append(g.chips, chip)
	}
	return groups
}

// MatchNearest pairs every image point with its nearest reference point
// within radius, keeping only the closest claim when two image points
// contend for one reference source. Returned index slices are parallel
// and ordered by image index. Also used by the catalog cross-matcher.
func MatchNearest(imgPts, refPts []geometry.Point2D, radius float64) (inputIdx, refIdx []int) {
	if len(refPts) == 0 {
		return nil, nil
	}

	pts := make(tanPoints, len(refPts))
	for i, p := range refPts {
		pts[i] = tanPoint{x: p.X, y: p.Y, idx: i}
	}
	tree := kdtree.New(pts, false)

	radiusSq := radius * radius
	type claim struct {
		input  int
		distSq float64
	}
	best := map[int]claim{}
	for i, p := range imgPts {
		got, distSq := tree.Nearest(tanPoint{x: p.X, y: p.Y})
		if got == nil || distSq > radiusSq {
			continue
		}
		ri := got.(tanPoint).idx
		if prev, ok := best[ri]; !ok || distSq < prev.distSq {
			best[ri] = claim{input: i, distSq: distSq}
		}
	}

	// Emit pairs in image-catalog order for determinism.
	byInput := map[int]int{}
	for ri, c := range best {
		byInput[c.input] = ri
	}
	for i := range imgPts {
		if ri, ok := byInput[i]; ok {
			inputIdx = append(inputIdx, i)
			refIdx = append(refIdx, ri)
		}
	}
	return inputIdx, refIdx
}

func xsOf(pts []geometry.Point2D) []float64 {
	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.X
	}
	return xs
}

func ysOf(pts []geometry.Point2D) []float64 {
	ys := make([]float64, len(pts))
	for i, p := range pts {
		ys[i] = p.Y
	}
	return ys
}
