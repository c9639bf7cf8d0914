package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mosaicqa/internal/stats"
	"mosaicqa/pkg/geometry"
)

// fitAffineLeastSquares solves the overdetermined linear system mapping
// src onto dst with a full 2x3 affine transform, using QR decomposition.
func fitAffineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 matched pairs, got %d", n)
	}

	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, fmt.Errorf("affine solve: %w", err)
	}

	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}, nil
}

// fitWithRejection fits an affine transform and iteratively rejects pairs
// whose residual norm sigma-clips out, refitting on the survivors. The
// returned mask is parallel to the input pairs and marks the pairs used by
// the final fit.
func fitWithRejection(src, dst []geometry.Point2D, sigma float64, maxIters int) (geometry.AffineTransform, []bool, error) {
	mask := make([]bool, len(src))
	for i := range mask {
		mask[i] = true
	}

	var transform geometry.AffineTransform
	for iter := 0; iter < maxIters; iter++ {
		var fitSrc, fitDst []geometry.Point2D
		for i := range src {
			if mask[i] {
				fitSrc = append(fitSrc, src[i])
				fitDst = append(fitDst, dst[i])
			}
		}

		t, err := fitAffineLeastSquares(fitSrc, fitDst)
		if err != nil {
			return geometry.AffineTransform{}, nil, err
		}
		transform = t

		// Clip on the residual norms of the surviving pairs.
		var norms []float64
		for i := range src {
			if mask[i] {
				norms = append(norms, transform.Apply(src[i]).Distance(dst[i]))
			}
		}
		center := stats.Median(norms)
		std := stats.PopStdDev(norms)
		if std == 0 || math.IsNaN(std) {
			break
		}

		removed := 0
		for i := range src {
			if !mask[i] {
				continue
			}
			norm := transform.Apply(src[i]).Distance(dst[i])
			if math.Abs(norm-center) > sigma*std {
				mask[i] = false
				removed++
			}
		}
		if removed == 0 {
			break
		}
	}

	return transform, mask, nil
}
