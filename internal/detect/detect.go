// Package detect extracts candidate point-source positions from a single
// detector chip image. It is the entry point of the quality pipeline: the
// positions found here feed the relative alignment fit. Detection is
// deliberately simple (threshold, contours, flux-weighted centroids); the
// pipeline only needs a bounded set of well-centered bright sources, not a
// complete catalog.
package detect

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"mosaicqa/pkg/geometry"
)

// ErrEmptyImage is returned when the input Mat has no data.
var ErrEmptyImage = errors.New("empty chip image")

// Options configures point-source extraction.
type Options struct {
	MaxSources int     // hard cap on returned sources, brightest first
	MinArea    float64 // contour area floor, rejects hot pixels
	MaxArea    float64 // contour area ceiling, rejects extended objects
	BlurKernel int     // Gaussian kernel size applied before thresholding
}

// DefaultOptions returns defaults tuned for drizzled mosaics.
func DefaultOptions() Options {
	return Options{
		MaxSources: 2000,
		MinArea:    2,
		MaxArea:    400,
		BlurKernel: 3,
	}
}

// Source is one detected point source on a chip.
type Source struct {
	Pos  geometry.Point2D
	Flux float64
	Area float64
}

// ExtractPointSources detects point sources on a chip image and returns
// them brightest first, capped at opts.MaxSources.
func ExtractPointSources(img gocv.Mat, opts Options) ([]Source, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = DefaultOptions().MaxSources
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() > 1 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}

	// Mild smoothing so single hot pixels do not survive thresholding.
	blurred := gocv.NewMat()
	defer blurred.Close()
	k := opts.BlurKernel
	if k < 1 {
		k = 1
	}
	if k%2 == 0 {
		k++
	}
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var sources []Source
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < opts.MinArea || (opts.MaxArea > 0 && area > opts.MaxArea) {
			continue
		}

		rect := gocv.BoundingRect(contour)
		pos, flux, ok := weightedCentroid(gray, rect)
		if !ok {
			continue
		}
		sources = append(sources, Source{Pos: pos, Flux: flux, Area: area})
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Flux > sources[j].Flux
	})
	if len(sources) > opts.MaxSources {
		sources = sources[:opts.MaxSources]
	}
	return sources, nil
}

// Positions returns just the centroid positions of a source list.
func Positions(sources []Source) []geometry.Point2D {
	pts := make([]geometry.Point2D, len(sources))
	for i, s := range sources {
		pts[i] = s.Pos
	}
	return pts
}

// weightedCentroid computes the flux-weighted centroid of the gray image
// inside rect. ok is false when the region carries no flux.
func weightedCentroid(gray gocv.Mat, rect image.Rectangle) (geometry.Point2D, float64, bool) {
	var sum, sumX, sumY float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := float64(gray.GetUCharAt(y, x))
			sum += v
			sumX += v * float64(x)
			sumY += v * float64(y)
		}
	}
	if sum <= 0 {
		return geometry.Point2D{}, 0, false
	}
	return geometry.Point2D{X: sumX / sum, Y: sumY / sum}, sum, true
}

// CountAbove returns the number of sources in the list with flux at or
// above the given floor. Used by callers deciding whether a chip carries
// enough signal for a meaningful comparison.
func CountAbove(sources []Source, minFlux float64) int {
	n := 0
	for _, s := range sources {
		if s.Flux >= minFlux {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer for log lines.
func (s Source) String() string {
	return fmt.Sprintf("(%.2f, %.2f) flux=%.0f", s.Pos.X, s.Pos.Y, s.Flux)
}
