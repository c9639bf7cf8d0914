package align

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"mosaicqa/pkg/geometry"
)

// tanPoint is a tangent-plane position stored in a k-d tree along with
// the index of the catalog row it came from. Distance is the squared
// Euclidean distance, following the kdtree package convention.
type tanPoint struct {
	x, y float64
	idx  int
}

func (p tanPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(tanPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		panic("illegal dimension")
	}
}

func (p tanPoint) Dims() int { return 2 }

func (p tanPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(tanPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

// tanPoints implements kdtree.Interface for tree construction.
type tanPoints []tanPoint

func (p tanPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p tanPoints) Len() int                      { return len(p) }
func (p tanPoints) Pivot(d kdtree.Dim) int        { return tanPlane{tanPoints: p, Dim: d}.Pivot() }
func (p tanPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// tanPlane sorts tanPoints along one dimension for pivot selection.
type tanPlane struct {
	kdtree.Dim
	tanPoints
}

func (p tanPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.tanPoints[i].x < p.tanPoints[j].x
	case 1:
		return p.tanPoints[i].y < p.tanPoints[j].y
	default:
		panic("illegal dimension")
	}
}

func (p tanPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p tanPlane) Slice(start, end int) kdtree.SortSlicer {
	p.tanPoints = p.tanPoints[start:end]
	return p
}

func (p tanPlane) Swap(i, j int) {
	p.tanPoints[i], p.tanPoints[j] = p.tanPoints[j], p.tanPoints[i]
}

// NearestNeighborDistances returns, for each point, the Euclidean
// distance to its closest other point in the set. Points with fewer than
// two members yield an empty result.
func NearestNeighborDistances(pts []geometry.Point2D) []float64 {
	if len(pts) < 2 {
		return nil
	}

	data := make(tanPoints, len(pts))
	for i, p := range pts {
		data[i] = tanPoint{x: p.X, y: p.Y, idx: i}
	}
	tree := kdtree.New(data, false)

	dists := make([]float64, len(pts))
	for i, p := range pts {
		// The query point itself is in the tree, so keep the two
		// nearest and take the nonzero one.
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, tanPoint{x: p.X, y: p.Y, idx: i})
		best := 0.0
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			if cd.Dist > best && !math.IsInf(cd.Dist, 1) {
				best = cd.Dist
			}
		}
		dists[i] = math.Sqrt(best)
	}
	return dists
}
