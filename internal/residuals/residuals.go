// Package residuals converts alignment fit results into per-group
// astrometric residual records: matched tangent-plane positions for the
// image and reference side of every fitted pair, plus sigma-clipped RMS
// summaries. This is the payload of the *_astrometry_resids.json quality
// artifact.
package residuals

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mosaicqa/internal/align"
	"mosaicqa/internal/stats"
)

// GroupRole labels a residual record.
type GroupRole string

const (
	RoleReference GroupRole = "REFERENCE"
	RoleImage     GroupRole = "IMAGE"
)

// ErrNoGroups is returned when extraction is invoked with no chips.
var ErrNoGroups = errors.New("no chip records supplied")

// FitParams are the linear fit parameters copied verbatim from the
// group's alignment fit. Present only on IMAGE records.
type FitParams struct {
	XSh      float64 `json:"xsh"`
	YSh      float64 `json:"ysh"`
	Rot      float64 `json:"rot"`
	Scale    float64 `json:"scale"`
	NMatches int     `json:"nmatches"`
	Skew     float64 `json:"skew"`
}

// ImageGroup is the residual record for one distinct group name. The four
// position slices are index-aligned matched pairs in tangent-plane pixels;
// RMS values are nil until at least one matched pair has been accumulated.
type ImageGroup struct {
	GroupID int       `json:"group_id"`
	Type    GroupRole `json:"type"`

	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
	RefX []float64 `json:"ref_x"`
	RefY []float64 `json:"ref_y"`

	RMSX *float64 `json:"rms_x"`
	RMSY *float64 `json:"rms_y"`

	*FitParams
}

// accumulator is the per-extraction working state. The running reference
// buffer and per-group chip offsets live here for exactly one Extract
// call; nothing is shared across invocations.
type accumulator struct {
	records map[string]*ImageGroup
	offsets map[string]int // running cumIndx per group name
	refRA   []float64
	refDec  []float64
}

// Extract builds one residual record per distinct group name from a set
// of fitted chip records.
//
// Extraction is two-phase: all REFERENCE chips are accumulated into the
// run-global reference sky buffer before any IMAGE chip's matched indices
// are resolved against it, regardless of input order. The caller is
// expected to have verified that at least one group fit succeeded
// (align.AnySuccess); chips whose fit failed are skipped with a warning.
func Extract(chips []*align.ChipRecord, logger *logrus.Logger) (map[string]*ImageGroup, error) {
	if len(chips) == 0 {
		return nil, ErrNoGroups
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	acc := &accumulator{
		records: map[string]*ImageGroup{},
		offsets: map[string]int{},
	}

	// Phase 1: reference groups feed the concatenated sky buffer.
	for _, chip := range chips {
		if chip.Fit == nil {
			return nil, fmt.Errorf("group %s: chip has no fit result", chip.GroupName)
		}
		if chip.Fit.Status != align.StatusReference {
			continue
		}
		rec := acc.record(chip)
		rec.Type = RoleReference

		ras, decs := chip.WCS.DetToWorld(xs(chip), ys(chip))
		acc.refRA = append(acc.refRA, ras...)
		acc.refDec = append(acc.refDec, decs...)
	}

	// Phase 2: image groups resolve matched indices against the buffer.
	for _, chip := range chips {
		switch chip.Fit.Status {
		case align.StatusReference:
			continue
		case align.StatusFailed:
			logger.WithField("group", chip.GroupName).Warn("skipping chip of unaligned group")
			continue
		case align.StatusSuccess:
			if err := acc.resolveImageChip(chip); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("group %s: unrecognized fit status %q", chip.GroupName, chip.Fit.Status)
		}
	}

	return acc.records, nil
}

// record returns the group record for a chip, creating it (and zeroing
// the group's running offset) on the name's first appearance. The offset
// persists across subsequent chips sharing the name.
func (a *accumulator) record(chip *align.ChipRecord) *ImageGroup {
	rec, ok := a.records[chip.GroupName]
	if !ok {
		rec = &ImageGroup{
			GroupID: chip.GroupID,
			X:       []float64{},
			Y:       []float64{},
			RefX:    []float64{},
			RefY:    []float64{},
		}
		a.records[chip.GroupName] = rec
		a.offsets[chip.GroupName] = 0
	}
	return rec
}

// resolveImageChip extracts this chip's share of the group's matched
// pairs and appends them to the group accumulators.
func (a *accumulator) resolveImageChip(chip *align.ChipRecord) error {
	fit := chip.Fit
	if len(fit.MatchedInputIdx) != len(fit.MatchedRefIdx) {
		return fmt.Errorf("group %s: matched index arrays disagree (%d vs %d)",
			chip.GroupName, len(fit.MatchedInputIdx), len(fit.MatchedRefIdx))
	}
	if len(fit.FitMask) != len(fit.MatchedInputIdx) {
		return fmt.Errorf("group %s: fit mask length %d does not cover %d matched pairs",
			chip.GroupName, len(fit.FitMask), len(fit.MatchedInputIdx))
	}

	rec := a.record(chip)
	rec.Type = RoleImage

	// Apply the fit's validity mask. FitRA/FitDec are parallel to this
	// masked sequence by the matcher contract.
	var inputIdx, refIdx []int
	for i, keep := range fit.FitMask {
		if keep {
			inputIdx = append(inputIdx, fit.MatchedInputIdx[i])
			refIdx = append(refIdx, fit.MatchedRefIdx[i])
		}
	}
	if len(fit.FitRA) != len(inputIdx) || len(fit.FitDec) != len(inputIdx) {
		return fmt.Errorf("group %s: fitted sky positions (%d) do not cover %d masked pairs",
			chip.GroupName, len(fit.FitRA), len(inputIdx))
	}

	// Select the pairs whose input index falls in this chip's window of
	// the group's concatenated catalog, then advance the running offset.
	start := a.offsets[chip.GroupName]
	maxIndx := len(chip.Catalog)
	var fitRA, fitDec []float64
	var chipRefIdx []int
	for i := range inputIdx {
		if inputIdx[i] < start || inputIdx[i] >= start+maxIndx {
			continue
		}
		fitRA = append(fitRA, fit.FitRA[i])
		fitDec = append(fitDec, fit.FitDec[i])
		chipRefIdx = append(chipRefIdx, refIdx[i])
	}
	a.offsets[chip.GroupName] = start + maxIndx

	// Image side: tangent positions re-derived from the fitted sky
	// positions through this chip's transform.
	imgX, imgY := chip.WCS.WorldToTanp(fitRA, fitDec)

	// Reference side: gather from the accumulated buffer and project with
	// this chip's transform (not the reference chip's).
	refRA := make([]float64, len(chipRefIdx))
	refDec := make([]float64, len(chipRefIdx))
	for i, ri := range chipRefIdx {
		if ri < 0 || ri >= len(a.refRA) {
			return fmt.Errorf("group %s: matched reference index %d outside accumulated catalog of %d",
				chip.GroupName, ri, len(a.refRA))
		}
		refRA[i] = a.refRA[ri]
		refDec[i] = a.refDec[ri]
	}
	refX, refY := chip.WCS.WorldToTanp(refRA, refDec)

	rec.X = append(rec.X, imgX...)
	rec.Y = append(rec.Y, imgY...)
	rec.RefX = append(rec.RefX, refX...)
	rec.RefY = append(rec.RefY, refY...)
	rec.FitParams = &FitParams{
		XSh:      fit.Shift[0],
		YSh:      fit.Shift[1],
		Rot:      fit.Rot,
		Scale:    fit.Scale,
		NMatches: fit.NMatches,
		Skew:     fit.Skew,
	}

	// RMS always reflects the full running accumulation, so later chips
	// overwrite the partial values stored by earlier ones.
	rec.RMSX = clippedRMS(rec.X, rec.RefX)
	rec.RMSY = clippedRMS(rec.Y, rec.RefY)
	return nil
}

// clippedRMS is the sigma-clipped standard deviation of the per-axis
// residual (image - reference), nil when no pairs have accumulated.
func clippedRMS(img, ref []float64) *float64 {
	if len(img) == 0 {
		return nil
	}
	resid := make([]float64, len(img))
	for i := range img {
		resid[i] = img[i] - ref[i]
	}
	rms, ok := stats.ClippedStdDev(resid)
	if !ok {
		return nil
	}
	return &rms
}

func xs(chip *align.ChipRecord) []float64 {
	out := make([]float64, len(chip.Catalog))
	for i, p := range chip.Catalog {
		out[i] = p.X
	}
	return out
}

func ys(chip *align.ChipRecord) []float64 {
	out := make([]float64, len(chip.Catalog))
	for i, p := range chip.Catalog {
		out[i] = p.Y
	}
	return out
}
