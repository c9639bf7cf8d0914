package crossmatch

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"mosaicqa/internal/catalog"
	"mosaicqa/internal/stats"
	"mosaicqa/internal/wcs"
)

// GoodFlagSum is the default "all quality bits set" reference mask.
const GoodFlagSum = 255

// Photometry columns compared between the two catalogs, with their
// per-row measurement error columns.
var (
	PhotColumns    = []string{"MagAp1", "MagAp2"}
	PhotErrColumns = []string{"MagErrAp1", "MagErrAp2"}
)

// Input is one catalog with the identity and frame metadata of the
// product it was measured on.
type Input struct {
	Name    string
	Catalog *catalog.Catalog
	WCS     *wcs.TanWCS
	Frame   wcs.Frame
}

// SeparationStats summarizes on-sky separations of matched pairs.
type SeparationStats struct {
	Units      string            `json:"units"`
	Raw        stats.Descriptive `json:"raw"`
	Clipped    stats.Clipped     `json:"sigma_clipped"`
	PointFrame wcs.Frame         `json:"point_frame"`
	SegFrame   wcs.Frame         `json:"segment_frame"`
}

// PhotometryStats summarizes the per-band magnitude differences
// (point - segment) of matched pairs.
type PhotometryStats struct {
	Units      string  `json:"units"`
	MeanDiff   float64 `json:"mean_difference"`
	MedianDiff float64 `json:"median_difference"`
	StdDiff    float64 `json:"std_difference"`
	NPairs     int     `json:"n_pairs"`
}

// Result is the full outcome of cross-matching two catalogs.
type Result struct {
	PointName      string                      `json:"point_catalog"`
	SegmentName    string                      `json:"segment_catalog"`
	PointLength    int                         `json:"point_catalog_length"`
	SegmentLength  int                         `json:"segment_catalog_length"`
	MatchCount     int                         `json:"number_of_crossmatches"`
	IdxPoint       []int                       `json:"-"`
	IdxSegment     []int                       `json:"-"`
	QualityMask    []bool                      `json:"-"`
	GoodPairs      int                         `json:"good_pairs"`
	MatchedRA      [2][]float64                `json:"matched_ra"`
	MatchedDec     [2][]float64                `json:"matched_dec"`
	Separation     *SeparationStats            `json:"separation_statistics,omitempty"`
	Photometry     map[string]*PhotometryStats `json:"photometry_statistics,omitempty"`
	CommonColumns  []string                    `json:"common_columns"`
}

// Engine computes cross-match statistics for one pair of catalogs.
type Engine struct {
	GoodBits int
	Sigma    float64
	MaxIters int
	Matcher  XYMatcher
	Logger   *logrus.Logger
}

// NewEngine returns an engine with the reporting defaults (3-sigma,
// 3-iteration clipping, all eight quality bits required).
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		GoodBits: GoodFlagSum,
		Sigma:    3,
		MaxIters: 3,
		Matcher:  NewKDTreeMatcher(),
		Logger:   logger,
	}
}

// Compare cross-matches the point and segment catalogs and computes
// separation and photometry statistics over the good matched pairs.
//
// A zero-match outcome is expected and non-fatal: it is logged and
// Compare returns (nil, nil). Errors are reserved for contract and input
// problems that indicate a broken adapter or catalog.
func (e *Engine) Compare(point, segment Input) (*Result, error) {
	log := e.Logger.WithFields(logrus.Fields{
		"point":   point.Name,
		"segment": segment.Name,
	})

	common := catalog.CommonColumns(point.Catalog, segment.Catalog)
	log.WithField("columns", common).Info("columns common to both catalogs")

	idxPoint, idxSegment, err := e.Matcher.Match(point.Catalog, segment.Catalog, point.WCS, segment.WCS)
	if err != nil {
		return nil, fmt.Errorf("cross-match %s vs %s: %w", point.Name, segment.Name, err)
	}
	if len(idxPoint) != len(idxSegment) {
		return nil, fmt.Errorf("cross-match %s vs %s: %w (%d vs %d)",
			point.Name, segment.Name, catalog.ErrRaggedIndices, len(idxPoint), len(idxSegment))
	}

	nPoint := point.Catalog.Len()
	nSegment := segment.Catalog.Len()
	log.WithFields(logrus.Fields{
		"matches":          len(idxPoint),
		"point_fraction":   fraction(len(idxPoint), nPoint),
		"segment_fraction": fraction(len(idxSegment), nSegment),
	}).Info("cross-matching results")

	if len(idxPoint) == 0 {
		log.Warn("no matching sources found, comparisons cannot be computed")
		return nil, nil
	}

	res := &Result{
		PointName:     point.Name,
		SegmentName:   segment.Name,
		PointLength:   nPoint,
		SegmentLength: nSegment,
		MatchCount:    len(idxPoint),
		IdxPoint:      idxPoint,
		IdxSegment:    idxSegment,
		CommonColumns: common,
	}

	// Quality mask: valid data in every compared column, and every
	// designated quality bit set in both catalogs.
	missing, err := catalog.MaskMissingValues(point.Catalog, segment.Catalog, idxPoint, idxSegment, common)
	if err != nil {
		return nil, fmt.Errorf("cross-match %s vs %s: %w", point.Name, segment.Name, err)
	}
	flags, err := catalog.ExtractMatchedColumn("Flags", point.Catalog, segment.Catalog, idxPoint, idxSegment, nil)
	if err != nil {
		return nil, fmt.Errorf("cross-match %s vs %s: %w", point.Name, segment.Name, err)
	}
	res.QualityMask, err = catalog.BuildQualityMask(flags, e.GoodBits, missing)
	if err != nil {
		return nil, fmt.Errorf("cross-match %s vs %s: %w", point.Name, segment.Name, err)
	}
	res.GoodPairs = catalog.CountTrue(res.QualityMask)

	if res.GoodPairs == 0 {
		log.Warn("no matched pairs survived quality masking, statistics skipped")
		return res, nil
	}

	if err := e.separationStats(point, segment, res); err != nil {
		log.WithError(err).Warn("separation statistics could not be computed")
	}
	if err := e.photometryStats(point, segment, res); err != nil {
		log.WithError(err).Warn("photometry statistics could not be computed")
	}
	return res, nil
}

// separationStats computes raw and sigma-clipped on-sky separation
// statistics over the masked matched pairs, in arcseconds. Both catalogs
// are taken to ICRS when their native frames differ from it.
func (e *Engine) separationStats(point, segment Input, res *Result) error {
	ra, err := catalog.ExtractMatchedColumn("RA", point.Catalog, segment.Catalog, res.IdxPoint, res.IdxSegment, res.QualityMask)
	if err != nil {
		return err
	}
	dec, err := catalog.ExtractMatchedColumn("DEC", point.Catalog, segment.Catalog, res.IdxPoint, res.IdxSegment, res.QualityMask)
	if err != nil {
		return err
	}
	if ra.Len() == 0 || ra.Len() != dec.Len() {
		return fmt.Errorf("masked RA/Dec pairs are degenerate (%d vs %d)", ra.Len(), dec.Len())
	}

	res.MatchedRA = [2][]float64{ra.A, ra.B}
	res.MatchedDec = [2][]float64{dec.A, dec.B}

	seps := make([]float64, ra.Len())
	for i := 0; i < ra.Len(); i++ {
		raP, decP := wcs.ToICRS(ra.A[i], dec.A[i], point.Frame)
		raS, decS := wcs.ToICRS(ra.B[i], dec.B[i], segment.Frame)
		seps[i] = wcs.Separation(raS, decS, raP, decP)
	}

	raw, _ := stats.Describe(seps)
	clipped, _ := stats.SigmaClipped(seps, e.Sigma, e.MaxIters)
	res.Separation = &SeparationStats{
		Units:      "arcseconds",
		Raw:        raw,
		Clipped:    clipped,
		PointFrame: point.Frame,
		SegFrame:   segment.Frame,
	}
	return nil
}

// photometryStats computes difference statistics for each magnitude band.
// The paired per-row measurement errors are propagated in quadrature but
// only the difference summaries are persisted in the result.
func (e *Engine) photometryStats(point, segment Input, res *Result) error {
	res.Photometry = map[string]*PhotometryStats{}
	for bi, band := range PhotColumns {
		if !point.Catalog.HasColumn(band) || !segment.Catalog.HasColumn(band) {
			continue
		}
		mags, err := catalog.ExtractMatchedColumn(band, point.Catalog, segment.Catalog, res.IdxPoint, res.IdxSegment, res.QualityMask)
		if err != nil {
			return err
		}
		if mags.Len() == 0 {
			continue
		}

		delta := make([]float64, mags.Len())
		for i := range delta {
			delta[i] = mags.A[i] - mags.B[i]
		}
		res.Photometry[band] = &PhotometryStats{
			Units:      "mag",
			MeanDiff:   stat.Mean(delta, nil),
			MedianDiff: stats.Median(delta),
			StdDiff:    stats.PopStdDev(delta),
			NPairs:     mags.Len(),
		}

		errCol := PhotErrColumns[bi]
		if point.Catalog.HasColumn(errCol) && segment.Catalog.HasColumn(errCol) {
			propagated, perr := e.propagatedErrors(point, segment, res, errCol)
			if perr == nil && len(propagated) > 0 {
				e.Logger.WithFields(logrus.Fields{
					"band":                band,
					"mean_propagated_err": stat.Mean(propagated, nil),
				}).Debug("propagated measurement error of difference")
			}
		}
	}
	return nil
}

// propagatedErrors combines the paired per-row magnitude errors in
// quadrature: sqrt(errPoint^2 + errSegment^2) per matched pair.
func (e *Engine) propagatedErrors(point, segment Input, res *Result, errCol string) ([]float64, error) {
	errs, err := catalog.ExtractMatchedColumn(errCol, point.Catalog, segment.Catalog, res.IdxPoint, res.IdxSegment, res.QualityMask)
	if err != nil {
		return nil, err
	}
	out := make([]float64, errs.Len())
	for i := range out {
		out[i] = quadrature(errs.A[i], errs.B[i])
	}
	return out, nil
}

func quadrature(a, b float64) float64 {
	return math.Sqrt(a*a + b*b)
}

func fraction(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}
