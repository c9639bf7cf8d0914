// Package stats provides the descriptive and sigma-clipped statistics used
// in the quality reports. The clipping follows the usual astronomy
// convention: iterate a fixed number of times, discarding samples more
// than N standard deviations from the median, and stop early once the
// sample stops shrinking.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Default clipping parameters used for residual RMS values.
const (
	DefaultSigma    = 3.0
	DefaultMaxIters = 5
)

// Descriptive holds plain (non-clipped) summary statistics.
type Descriptive struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// Clipped holds sigma-clipped summary statistics together with the
// parameters that produced them.
type Clipped struct {
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Std      float64 `json:"std"`
	Sigma    float64 `json:"sigma"`
	MaxIters int     `json:"maxiters"`
}

// Describe computes plain summary statistics. ok is false for empty input.
func Describe(data []float64) (Descriptive, bool) {
	if len(data) == 0 {
		return Descriptive{}, false
	}

	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return Descriptive{
		Min:    min,
		Max:    max,
		Mean:   stat.Mean(data, nil),
		Median: Median(data),
		Std:    PopStdDev(data),
	}, true
}

// Median returns the interpolated median of data. Input is not modified.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PopStdDev returns the population standard deviation (N in the
// denominator), matching the convention of the upstream reports.
func PopStdDev(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return 0
	}
	// gonum's StdDev is the sample deviation; rescale to population.
	sd := stat.StdDev(data, nil)
	return sd * math.Sqrt(float64(n-1)/float64(n))
}

// SigmaClip returns the subset of data surviving iterative sigma clipping
// about the median. maxIters bounds the number of passes; clipping stops
// early once a pass removes nothing.
func SigmaClip(data []float64, sigma float64, maxIters int) []float64 {
	kept := make([]float64, len(data))
	copy(kept, data)

	for iter := 0; iter < maxIters; iter++ {
		if len(kept) == 0 {
			break
		}
		center := Median(kept)
		std := PopStdDev(kept)
		if std == 0 || math.IsNaN(std) {
			break
		}

		next := kept[:0]
		for _, v := range kept {
			if math.Abs(v-center) <= sigma*std {
				next = append(next, v)
			}
		}
		if len(next) == len(kept) {
			break
		}
		kept = next
	}
	return kept
}

// SigmaClipped computes mean, median and standard deviation of data after
// sigma clipping. ok is false when nothing survives (or input is empty).
func SigmaClipped(data []float64, sigma float64, maxIters int) (c Clipped, ok bool) {
	kept := SigmaClip(data, sigma, maxIters)
	if len(kept) == 0 {
		return Clipped{Sigma: sigma, MaxIters: maxIters}, false
	}
	return Clipped{
		Mean:     stat.Mean(kept, nil),
		Median:   Median(kept),
		Std:      PopStdDev(kept),
		Sigma:    sigma,
		MaxIters: maxIters,
	}, true
}

// ClippedStdDev is the sigma-clipped standard deviation with default
// parameters, used for the per-axis residual RMS values.
func ClippedStdDev(data []float64) (float64, bool) {
	c, ok := SigmaClipped(data, DefaultSigma, DefaultMaxIters)
	if !ok {
		return 0, false
	}
	return c.Std, true
}
