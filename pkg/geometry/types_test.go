package geometry

import (
	"math"
	"testing"
)

func TestAffineApplyAndCompose(t *testing.T) {
	shift := Translation(3, -2)
	p := shift.Apply(Point2D{X: 1, Y: 1})
	if p.X != 4 || p.Y != -1 {
		t.Errorf("Translation.Apply = %v", p)
	}

	rot := Rotation(math.Pi / 2)
	q := rot.Apply(Point2D{X: 1, Y: 0})
	if math.Abs(q.X) > 1e-12 || math.Abs(q.Y-1) > 1e-12 {
		t.Errorf("90 degree rotation of (1,0) = %v", q)
	}

	// Compose applies the argument first.
	both := shift.Compose(rot)
	r := both.Apply(Point2D{X: 1, Y: 0})
	if math.Abs(r.X-3) > 1e-12 || math.Abs(r.Y+1) > 1e-12 {
		t.Errorf("compose result = %v, want (3, -1)", r)
	}
}

func TestAffineInverse(t *testing.T) {
	tr := Translation(5, 7).Compose(Rotation(0.3))
	inv, ok := tr.Inverse()
	if !ok {
		t.Fatal("invertible transform reported singular")
	}
	p := Point2D{X: 12.5, Y: -4.25}
	back := inv.Apply(tr.Apply(p))
	if math.Abs(back.X-p.X) > 1e-9 || math.Abs(back.Y-p.Y) > 1e-9 {
		t.Errorf("inverse round trip = %v, want %v", back, p)
	}

	if _, ok := (AffineTransform{}).Inverse(); ok {
		t.Error("zero transform reported invertible")
	}
}

func TestDecompose(t *testing.T) {
	angle := 12.5 // degrees
	s := 1.003
	tr := Rotation(angle * math.Pi / 180)
	tr.A *= s
	tr.B *= s
	tr.C *= s
	tr.D *= s

	rot, scale, skew := tr.Decompose()
	if math.Abs(rot-angle) > 1e-9 {
		t.Errorf("rot = %v, want %v", rot, angle)
	}
	if math.Abs(scale-s) > 1e-9 {
		t.Errorf("scale = %v, want %v", scale, s)
	}
	if math.Abs(skew) > 1e-9 {
		t.Errorf("skew = %v, want 0", skew)
	}
}

func TestDecomposeIdentity(t *testing.T) {
	rot, scale, skew := Identity().Decompose()
	if rot != 0 || skew != 0 {
		t.Errorf("identity rot=%v skew=%v, want 0", rot, skew)
	}
	if scale != 1 {
		t.Errorf("identity scale = %v, want 1", scale)
	}
}

func TestCentroid(t *testing.T) {
	pts := []Point2D{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	c := Centroid(pts)
	if c.X != 1 || c.Y != 1 {
		t.Errorf("Centroid = %v, want (1, 1)", c)
	}
	if z := Centroid(nil); z.X != 0 || z.Y != 0 {
		t.Errorf("empty Centroid = %v", z)
	}
}

func TestBoundingBoxAndContains(t *testing.T) {
	pts := []Point2D{{1, 5}, {-2, 3}, {4, -1}}
	box := BoundingBox(pts)
	if box.X != -2 || box.Y != -1 || box.Width != 6 || box.Height != 6 {
		t.Errorf("BoundingBox = %+v", box)
	}
	if !box.Contains(Point2D{X: 0, Y: 0}) {
		t.Error("box should contain origin")
	}
	if box.Contains(Point2D{X: 10, Y: 0}) {
		t.Error("box should not contain (10, 0)")
	}
	if c := box.Center(); c.X != 1 || c.Y != 2 {
		t.Errorf("Center = %v, want (1, 2)", c)
	}
}

func TestPointDistance(t *testing.T) {
	d := Point2D{X: 0, Y: 0}.Distance(Point2D{X: 3, Y: 4})
	if d != 5 {
		t.Errorf("Distance = %v, want 5", d)
	}
}
