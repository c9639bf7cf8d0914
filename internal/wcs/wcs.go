// Package wcs implements the tangent-plane world coordinate transform used
// to move between detector pixels, sky coordinates and the tangent-plane
// frame the astrometric fit is computed in. Only the gnomonic (TAN)
// projection is supported; the WCS parameters themselves are extracted
// upstream and arrive here already parsed.
package wcs

import (
	"math"

	"github.com/golang/geo/s2"

	"mosaicqa/pkg/geometry"
)

// Frame identifies the celestial reference frame of a coordinate pair.
type Frame string

const (
	FrameICRS Frame = "icrs"
	FrameFK5  Frame = "fk5"
)

const degToRad = math.Pi / 180

// TanWCS is a gnomonic world coordinate system: a linear detector
// distortion (the CD matrix, degrees per pixel) around a reference pixel,
// followed by a tangent-plane projection about the reference sky position.
type TanWCS struct {
	CRPix geometry.Point2D         // reference pixel, 1-based FITS convention
	CRVal geometry.Point2D         // reference sky position (RA, Dec) in degrees
	CD    geometry.AffineTransform // linear part only; TX/TY are ignored
	Frame Frame
}

// NewTanWCS builds a TanWCS with a diagonal CD matrix of the given pixel
// scale in degrees per pixel. Convenience for tests and synthetic chips.
func NewTanWCS(crpixX, crpixY, crvalRA, crvalDec, scale float64) *TanWCS {
	return &TanWCS{
		CRPix: geometry.Point2D{X: crpixX, Y: crpixY},
		CRVal: geometry.Point2D{X: crvalRA, Y: crvalDec},
		CD:    geometry.AffineTransform{A: -scale, D: scale},
		Frame: FrameICRS,
	}
}

// PixelToWorld converts one detector pixel position to (RA, Dec) degrees.
func (w *TanWCS) PixelToWorld(x, y float64) (ra, dec float64) {
	dx := x - w.CRPix.X
	dy := y - w.CRPix.Y
	xi := w.CD.A*dx + w.CD.B*dy
	eta := w.CD.C*dx + w.CD.D*dy
	return w.tanpToWorld(xi, eta)
}

// WorldToPixel converts (RA, Dec) degrees to a detector pixel position.
// ok is false when the position projects behind the tangent point or the
// CD matrix is singular.
func (w *TanWCS) WorldToPixel(ra, dec float64) (x, y float64, ok bool) {
	xi, eta, ok := w.worldToTanpDeg(ra, dec)
	if !ok {
		return 0, 0, false
	}
	inv, invOK := w.CD.Inverse()
	if !invOK {
		return 0, 0, false
	}
	dx := inv.A*xi + inv.B*eta
	dy := inv.C*xi + inv.D*eta
	return dx + w.CRPix.X, dy + w.CRPix.Y, true
}

// DetToWorld converts parallel detector position slices to sky coordinates.
func (w *TanWCS) DetToWorld(xs, ys []float64) (ras, decs []float64) {
	ras = make([]float64, len(xs))
	decs = make([]float64, len(xs))
	for i := range xs {
		ras[i], decs[i] = w.PixelToWorld(xs[i], ys[i])
	}
	return ras, decs
}

// WorldToTanp converts sky coordinates to tangent-plane pixel positions
// about this WCS's reference point. These are the coordinates the linear
// alignment fit is expressed in.
func (w *TanWCS) WorldToTanp(ras, decs []float64) (xs, ys []float64) {
	inv, invOK := w.CD.Inverse()
	xs = make([]float64, len(ras))
	ys = make([]float64, len(ras))
	for i := range ras {
		xi, eta, ok := w.worldToTanpDeg(ras[i], decs[i])
		if !ok || !invOK {
			xs[i] = math.NaN()
			ys[i] = math.NaN()
			continue
		}
		xs[i] = inv.A*xi + inv.B*eta
		ys[i] = inv.C*xi + inv.D*eta
	}
	return xs, ys
}

// TanpToWorld converts tangent-plane pixel positions back to sky
// coordinates. Inverse of WorldToTanp.
func (w *TanWCS) TanpToWorld(xs, ys []float64) (ras, decs []float64) {
	ras = make([]float64, len(xs))
	decs = make([]float64, len(xs))
	for i := range xs {
		xi := w.CD.A*xs[i] + w.CD.B*ys[i]
		eta := w.CD.C*xs[i] + w.CD.D*ys[i]
		ras[i], decs[i] = w.tanpToWorld(xi, eta)
	}
	return ras, decs
}

// worldToTanpDeg computes gnomonic standard coordinates (xi, eta) in
// degrees for a sky position.
func (w *TanWCS) worldToTanpDeg(ra, dec float64) (xi, eta float64, ok bool) {
	ra0 := w.CRVal.X * degToRad
	dec0 := w.CRVal.Y * degToRad
	r := ra * degToRad
	d := dec * degToRad

	cosC := math.Sin(dec0)*math.Sin(d) + math.Cos(dec0)*math.Cos(d)*math.Cos(r-ra0)
	if cosC <= 0 {
		return 0, 0, false
	}
	xi = math.Cos(d) * math.Sin(r-ra0) / cosC / degToRad
	eta = (math.Cos(dec0)*math.Sin(d) - math.Sin(dec0)*math.Cos(d)*math.Cos(r-ra0)) / cosC / degToRad
	return xi, eta, true
}

// tanpToWorld inverts the gnomonic projection.
func (w *TanWCS) tanpToWorld(xi, eta float64) (ra, dec float64) {
	ra0 := w.CRVal.X * degToRad
	dec0 := w.CRVal.Y * degToRad
	x := xi * degToRad
	y := eta * degToRad

	denom := math.Cos(dec0) - y*math.Sin(dec0)
	dra := math.Atan2(x, denom)
	ra = (ra0 + dra) / degToRad
	dec = math.Atan((math.Sin(dec0)+y*math.Cos(dec0))*math.Cos(dra)/denom) / degToRad

	// Normalize RA into [0, 360).
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra, dec
}

// Separation returns the on-sky angular separation between two positions
// in arcseconds. Both positions must already share a frame.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	a := s2.LatLngFromDegrees(dec1, ra1)
	b := s2.LatLngFromDegrees(dec2, ra2)
	return a.Distance(b).Degrees() * 3600
}

// IAU 2000 frame bias angles (FK5 J2000 relative to ICRS), in radians.
const (
	biasDAlpha = -22.9e-3 / 3600 * degToRad
	biasXi     = 9.1e-3 / 3600 * degToRad
	biasEta    = -19.9e-3 / 3600 * degToRad
)

// ToICRS converts a position in the given frame to ICRS. FK5(J2000)
// differs from ICRS only by the constant frame bias rotation, applied here
// at first order; ICRS input is returned unchanged.
func ToICRS(ra, dec float64, frame Frame) (float64, float64) {
	if frame != FrameFK5 {
		return ra, dec
	}

	r := ra * degToRad
	d := dec * degToRad
	v := [3]float64{
		math.Cos(d) * math.Cos(r),
		math.Cos(d) * math.Sin(r),
		math.Sin(d),
	}

	// First-order bias matrix, FK5 -> ICRS.
	u := [3]float64{
		v[0] - biasDAlpha*v[1] + biasXi*v[2],
		biasDAlpha*v[0] + v[1] + biasEta*v[2],
		-biasXi*v[0] - biasEta*v[1] + v[2],
	}

	outRA := math.Atan2(u[1], u[0]) / degToRad
	if outRA < 0 {
		outRA += 360
	}
	outDec := math.Asin(u[2]/math.Sqrt(u[0]*u[0]+u[1]*u[1]+u[2]*u[2])) / degToRad
	return outRA, outDec
}
