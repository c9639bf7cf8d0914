// Package quality orchestrates the mosaic quality analyses: relative
// alignment residuals between exposure groups, catalog bookkeeping
// comparisons, point/segment cross-matching, and the distribution of
// reference sources across the field. Each analysis produces one JSON
// artifact per product; a missing artifact after a run is itself the
// failure signal downstream tooling keys on.
package quality

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"mosaicqa/internal/align"
	"mosaicqa/internal/config"
	"mosaicqa/internal/detect"
	"mosaicqa/internal/diagnostic"
	"mosaicqa/internal/product"
	"mosaicqa/internal/residuals"
	"mosaicqa/internal/wcs"
)

// DataSource identifies this pipeline in artifact headers.
const DataSource = "mosaicqa"

// minAlignSources is the source-count floor below which an alignment
// comparison is meaningless and silently skipped.
const minAlignSources = 3

// ChipImage couples one detector chip image with the exposure group it
// belongs to and its coordinate transform.
type ChipImage struct {
	Name  string
	Group string
	WCS   *wcs.TanWCS
	Image gocv.Mat
}

// Analyzer runs the quality analyses with one shared configuration.
type Analyzer struct {
	Config  config.Configuration
	Logger  *logrus.Logger
	Matcher align.Matcher

	// FrameOf resolves the celestial frame a product's catalogs are
	// expressed in. Defaults to ICRS when nil.
	FrameOf func(p *product.Product) wcs.Frame
}

// NewAnalyzer builds an analyzer from a configuration.
func NewAnalyzer(cfg config.Configuration, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := align.NewTanPlaneMatcher(logger)
	m.SearchRadius = cfg.Matching.SearchRadius
	m.MinMatches = cfg.Matching.MinMatches
	m.RejectSigma = cfg.Matching.RejectSigma
	m.RejectIters = cfg.Matching.RejectIters

	return &Analyzer{
		Config:  cfg,
		Logger:  logger,
		Matcher: m,
	}
}

// DetermineAlignmentResiduals extracts sources from every chip of an
// input mosaic, fits the relative alignment between its exposure groups,
// and writes the astrometric residual artifact. The returned path is
// empty when the analysis was skipped for a non-fatal reason: too few
// sources, or no group fit converged.
func (a *Analyzer) DetermineAlignmentResiduals(ctx context.Context, inputName string, chips []ChipImage) (string, error) {
	log := a.Logger.WithField("input", inputName)
	if len(chips) == 0 {
		return "", fmt.Errorf("input %s: no chip images", inputName)
	}

	records, err := a.buildChipRecords(chips)
	if err != nil {
		return "", fmt.Errorf("input %s: %w", inputName, err)
	}

	// No group with enough sources means no meaningful comparison. This
	// is an expected outcome on sparse fields, not an error.
	if n := maxGroupSources(records); n <= minAlignSources {
		log.WithField("max_sources", n).Warn("not enough sources for alignment comparison")
		return "", nil
	}

	timeout := func() (context.Context, context.CancelFunc) {
		t := time.Duration(a.Config.Matching.TimeoutSeconds) * time.Second
		if t <= 0 {
			t = 5 * time.Minute
		}
		return context.WithTimeout(ctx, t)
	}
	if err := align.AlignWithTimeout(ctx, a.Matcher, records, timeout); err != nil {
		return "", fmt.Errorf("input %s: %w", inputName, err)
	}
	if !align.AnySuccess(records) {
		log.Warn("no group fit converged; residual artifact not written")
		return "", nil
	}

	resids, err := residuals.Extract(records, a.Logger)
	if err != nil {
		return "", fmt.Errorf("input %s: %w", inputName, err)
	}

	path := a.artifactPath(ResidualsFilename(inputName))
	if err := residuals.WriteFile(path, resids); err != nil {
		return "", err
	}
	log.WithField("artifact", path).Info("wrote astrometric residuals")
	return path, nil
}

// buildChipRecords runs point-source extraction on every chip image and
// assembles the alignment input records.
func (a *Analyzer) buildChipRecords(chips []ChipImage) ([]*align.ChipRecord, error) {
	opts := detect.DefaultOptions()
	opts.MaxSources = a.Config.Detection.MaxSources
	if a.Config.Detection.MinArea > 0 {
		opts.MinArea = a.Config.Detection.MinArea
	}
	if a.Config.Detection.MaxArea > 0 {
		opts.MaxArea = a.Config.Detection.MaxArea
	}

	records := make([]*align.ChipRecord, 0, len(chips))
	for _, chip := range chips {
		if chip.WCS == nil {
			return nil, fmt.Errorf("chip %s: no WCS configured", chip.Name)
		}
		sources, err := detect.ExtractPointSources(chip.Image, opts)
		if err != nil {
			return nil, fmt.Errorf("chip %s: %w", chip.Name, err)
		}
		a.Logger.WithFields(logrus.Fields{
			"chip":    chip.Name,
			"group":   chip.Group,
			"sources": len(sources),
		}).Debug("extracted point sources")

		records = append(records, &align.ChipRecord{
			GroupName: chip.Group,
			Catalog:   detect.Positions(sources),
			WCS:       chip.WCS,
		})
	}
	return records, nil
}

// maxGroupSources returns the largest per-group source total.
func maxGroupSources(records []*align.ChipRecord) int {
	totals := map[string]int{}
	best := 0
	for _, r := range records {
		totals[r.GroupName] += len(r.Catalog)
		if totals[r.GroupName] > best {
			best = totals[r.GroupName]
		}
	}
	return best
}

// ResidualsFilename is the artifact name for an input mosaic: the
// rootname (first nine characters of the exposure name) plus the
// residual suffix.
func ResidualsFilename(inputName string) string {
	root := inputName
	if len(root) > 9 {
		root = root[:9]
	}
	return root + diagnostic.SuffixAstrometryResids
}

// artifactPath places an artifact name under the configured output
// directory, creating it on first use.
func (a *Analyzer) artifactPath(name string) string {
	dir := a.Config.OutputDir
	if dir == "" {
		return name
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.Logger.WithError(err).WithField("dir", dir).Warn("cannot create output directory")
		return name
	}
	return filepath.Join(dir, name)
}

// frameFor resolves the celestial frame of a product's catalogs.
func (a *Analyzer) frameFor(p *product.Product) wcs.Frame {
	if a.FrameOf != nil {
		if f := a.FrameOf(p); f != "" {
			return f
		}
	}
	return wcs.FrameICRS
}
