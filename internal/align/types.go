// Package align matches per-chip source catalogs between exposure groups
// and fits a linear (shift/rotation/scale/skew) alignment for every
// non-reference group. The fit machinery is an adapter boundary: the
// residual engine only consumes ChipRecord and FitResult, so an external
// solver can replace the built-in one by implementing Matcher.
package align

import (
	"context"
	"errors"
	"fmt"

	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

var (
	// ErrNoChips is returned when a matcher is invoked with no input.
	ErrNoChips = errors.New("no chip records to align")

	// ErrNoReference is returned when no group can serve as reference.
	ErrNoReference = errors.New("no reference group available")
)

// FitStatus is the outcome reported for one exposure group.
type FitStatus string

const (
	// StatusSuccess marks a group with a converged alignment fit.
	StatusSuccess FitStatus = "SUCCESS"

	// StatusReference marks the group whose catalog defined the frame.
	StatusReference FitStatus = "REFERENCE"

	// StatusFailed marks a group the matcher could not align.
	StatusFailed FitStatus = "FAILED"
)

// ParseFitStatus validates a status value coming from an external fit
// adapter. An unrecognized value is a contract violation between this
// package and the adapter, so it fails loudly instead of being coerced.
func ParseFitStatus(s string) (FitStatus, error) {
	switch FitStatus(s) {
	case StatusSuccess, StatusReference, StatusFailed:
		return FitStatus(s), nil
	}
	return "", fmt.Errorf("unrecognized fit status %q", s)
}

// FitResult describes the alignment fit of one exposure group. Chips
// belonging to the same group share a single FitResult.
//
// MatchedInputIdx and MatchedRefIdx are parallel raw correspondence
// arrays: values in MatchedInputIdx index the group's concatenated chip
// catalogs; values in MatchedRefIdx index the run-global concatenated
// reference catalog. FitMask is parallel to both and marks the pairs the
// converged fit actually used. FitRA/FitDec hold the fitted sky positions
// of the masked matched input sources, in mask order.
type FitResult struct {
	Status FitStatus

	Shift    [2]float64
	Rot      float64
	Scale    float64
	Skew     float64
	NMatches int

	MatchedInputIdx []int
	MatchedRefIdx   []int
	FitMask         []bool
	FitRA           []float64
	FitDec          []float64
}

// ChipRecord is one detector chip's contribution to a fitting run: its
// source catalog in detector pixels, its coordinate transform, and (after
// alignment) the group fit.
type ChipRecord struct {
	GroupID   int
	GroupName string
	Catalog   []geometry.Point2D
	WCS       *wcs.TanWCS
	Fit       *FitResult
}

// Matcher produces alignment fits for a set of chip records, filling the
// Fit field on every chip. Implementations must honor ctx cancellation
// between groups.
type Matcher interface {
	AlignGroups(ctx context.Context, chips []*ChipRecord) error
}

// AlignWithTimeout wraps a matcher call with an explicit timeout boundary
// so a stuck external fit cannot hang a batch pipeline.
func AlignWithTimeout(ctx context.Context, m Matcher, chips []*ChipRecord, timeout func() (context.Context, context.CancelFunc)) error {
	tctx, cancel := timeout()
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.AlignGroups(tctx, chips)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return fmt.Errorf("alignment fit: %w", tctx.Err())
	case <-ctx.Done():
		return fmt.Errorf("alignment fit: %w", ctx.Err())
	}
}

// AnySuccess reports whether at least one chip carries a successful fit.
// Callers use this to decide whether a run produces any residual output.
func AnySuccess(chips []*ChipRecord) bool {
	for _, c := range chips {
		if c.Fit != nil && c.Fit.Status == StatusSuccess {
			return true
		}
	}
	return false
}
