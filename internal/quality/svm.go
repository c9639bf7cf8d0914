package quality

import (
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"mosaicqa/internal/align"
	"mosaicqa/internal/catalog"
	"mosaicqa/internal/crossmatch"
	"mosaicqa/internal/diagnostic"
	"mosaicqa/internal/product"
	"mosaicqa/internal/stats"
	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

// NumSources records the catalog sizes reported for one product.
type NumSources struct {
	Detector     string `json:"detector"`
	PointCount   int    `json:"point"`
	SegmentCount int    `json:"segment"`
}

// CompareNumSources reports the number of sources in the point and
// segment catalogs of each product, writing one artifact per product. A
// catalog that is missing or unreadable is reported as -1 rather than
// failing the batch. Returns the artifact paths written.
func (a *Analyzer) CompareNumSources(products []*product.Product) ([]string, error) {
	var paths []string
	for _, p := range products {
		counts := NumSources{
			Detector:     p.Detector,
			PointCount:   countCatalogSources(p.PointCat, a.Logger),
			SegmentCount: countCatalogSources(p.SegmentCat, a.Logger),
		}

		d := a.newDiagnostic(p, "number of sources in the point and segment catalogs")
		d.AddDataItem("number of sources", counts)

		path := a.artifactPath(p.Stem() + diagnostic.SuffixNumSources)
		if err := d.WriteFile(path); err != nil {
			return paths, err
		}
		a.Logger.WithField("artifact", path).Info("wrote source count comparison")
		paths = append(paths, path)
	}
	return paths, nil
}

// countCatalogSources reads the source count of a catalog file,
// preferring the count declared in its header comments over counting
// rows. Missing or unreadable catalogs count as -1.
func countCatalogSources(path string, logger *logrus.Logger) int {
	if _, err := os.Stat(path); err != nil {
		logger.WithField("catalog", path).Warn("catalog not found")
		return -1
	}
	if n, err := catalog.NumSourcesInHeader(path); err == nil && n >= 0 {
		return n
	}
	cat, err := catalog.ReadECSV(path)
	if err != nil {
		logger.WithError(err).WithField("catalog", path).Warn("catalog unreadable")
		return -1
	}
	return cat.Len()
}

// CompareRADecCrossmatches cross-matches a product's point and segment
// catalogs and writes the separation-statistics artifact. A zero-match
// outcome is logged and produces no artifact; the returned path is empty
// in that case.
func (a *Analyzer) CompareRADecCrossmatches(p *product.Product, w *wcs.TanWCS) (string, error) {
	point, segment, err := a.loadCatalogPair(p, w)
	if err != nil {
		return "", err
	}

	res, err := a.newEngine().Compare(point, segment)
	if err != nil {
		return "", err
	}
	if res == nil || res.GoodPairs == 0 {
		a.Logger.WithField("product", p.DrizzleFile).Warn("cross-match comparison could not be performed")
		return "", nil
	}

	d := a.newDiagnostic(p, "cross-match details of the point and segment catalogs")
	d.AddDataItem("cross-match details", res)

	path := a.artifactPath(p.Stem() + diagnostic.SuffixCrossMatch)
	if err := d.WriteFile(path); err != nil {
		return "", err
	}
	a.Logger.WithField("artifact", path).Info("wrote point/segment cross-match")
	return path, nil
}

// ComparePhotometry compares per-band aperture magnitudes between a
// product's point and segment catalogs over the good matched pairs. As
// with the cross-match comparison, zero matches produce no artifact.
func (a *Analyzer) ComparePhotometry(p *product.Product, w *wcs.TanWCS) (string, error) {
	point, segment, err := a.loadCatalogPair(p, w)
	if err != nil {
		return "", err
	}

	res, err := a.newEngine().Compare(point, segment)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Photometry) == 0 {
		a.Logger.WithField("product", p.DrizzleFile).Warn("no photometry statistics available")
		return "", nil
	}

	d := a.newDiagnostic(p, "photometry comparison of the point and segment catalogs")
	for _, band := range crossmatch.PhotColumns {
		if s, ok := res.Photometry[band]; ok {
			d.AddDataItem(band+" difference statistics", s)
		}
	}

	path := a.artifactPath(p.Stem() + diagnostic.SuffixPhotometry)
	if err := d.WriteFile(path); err != nil {
		return "", err
	}
	a.Logger.WithField("artifact", path).Info("wrote photometry comparison")
	return path, nil
}

// RefSources is the serialized table of astrometric reference sources
// covering a product, brightest first when magnitudes are available.
type RefSources struct {
	RA  []float64 `json:"RA"`
	Dec []float64 `json:"DEC"`
	Mag []float64 `json:"mag,omitempty"`
}

// ReportRefSources writes the astrometric reference sources covering a
// product into their own artifact, together with their count.
func (a *Analyzer) ReportRefSources(p *product.Product, refCat *catalog.Catalog) (string, error) {
	ras, err := refCat.Column("RA")
	if err != nil {
		return "", fmt.Errorf("reference catalog: %w", err)
	}
	decs, err := refCat.Column("DEC")
	if err != nil {
		return "", fmt.Errorf("reference catalog: %w", err)
	}

	src := RefSources{
		RA:  append([]float64(nil), ras...),
		Dec: append([]float64(nil), decs...),
	}
	if mags, err := refCat.Column("mag"); err == nil {
		src.Mag = append([]float64(nil), mags...)
		order := make([]int, len(src.Mag))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return src.Mag[order[i]] < src.Mag[order[j]]
		})
		src = RefSources{
			RA:  gatherFloats(src.RA, order),
			Dec: gatherFloats(src.Dec, order),
			Mag: gatherFloats(src.Mag, order),
		}
	}

	d := a.newDiagnostic(p, "table of astrometric reference sources in the image footprint")
	d.AddDataItem("reference sources", src)
	d.AddDataItem("number of reference sources", len(src.RA))

	path := a.artifactPath(p.Stem() + diagnostic.SuffixGaiaSources)
	if err := d.WriteFile(path); err != nil {
		return "", err
	}
	a.Logger.WithField("artifact", path).Info("wrote reference source table")
	return path, nil
}

func gatherFloats(vals []float64, order []int) []float64 {
	out := make([]float64, len(order))
	for i, j := range order {
		out[i] = vals[j]
	}
	return out
}

// RefDistribution summarizes how reference astrometric sources are
// distributed across a product's field of view.
type RefDistribution struct {
	TotalSources    int               `json:"total_sources"`
	InField         int               `json:"sources_in_field"`
	Centroid        [2]float64        `json:"centroid"`
	OffsetFromRef   [2]float64        `json:"offset_from_reference_pixel"`
	StdX            float64           `json:"std_x"`
	StdY            float64           `json:"std_y"`
	NeighborRaw     stats.Descriptive `json:"nearest_neighbor_pixels"`
	NeighborClipped stats.Clipped     `json:"nearest_neighbor_pixels_clipped"`
}

// CharacterizeRefDistribution projects a reference catalog onto a
// product's pixel grid and summarizes the spatial distribution of the
// sources that land on the field: centroid offset from the reference
// pixel, spread, and nearest-neighbor distances. footprint, when it has
// at least three vertices, restricts sources to the mosaic's exposed
// area; otherwise the bounding rectangle is used.
func (a *Analyzer) CharacterizeRefDistribution(p *product.Product, refCat *catalog.Catalog, w *wcs.TanWCS, field geometry.Rect, footprint []geometry.Point2D) (string, error) {
	if w == nil {
		return "", fmt.Errorf("product %s: no WCS for reference distribution", p.DrizzleFile)
	}
	ras, err := refCat.Column("RA")
	if err != nil {
		return "", fmt.Errorf("reference catalog: %w", err)
	}
	decs, err := refCat.Column("DEC")
	if err != nil {
		return "", fmt.Errorf("reference catalog: %w", err)
	}

	hull := footprint
	if len(hull) >= 3 {
		hull = geometry.ConvexHull(hull)
	}

	var inField []geometry.Point2D
	for i := range ras {
		x, y, ok := w.WorldToPixel(ras[i], decs[i])
		if !ok {
			continue
		}
		pt := geometry.Point2D{X: x, Y: y}
		if !field.Contains(pt) {
			continue
		}
		if len(hull) >= 3 && !geometry.PointInPolygon(pt, hull) {
			continue
		}
		inField = append(inField, pt)
	}

	dist := RefDistribution{
		TotalSources: len(ras),
		InField:      len(inField),
	}
	if len(inField) > 0 {
		c := geometry.Centroid(inField)
		dist.Centroid = [2]float64{c.X, c.Y}
		dist.OffsetFromRef = [2]float64{c.X - w.CRPix.X, c.Y - w.CRPix.Y}
		dist.StdX = stats.PopStdDev(xsOfPoints(inField))
		dist.StdY = stats.PopStdDev(ysOfPoints(inField))
	}
	if nn := align.NearestNeighborDistances(inField); len(nn) > 0 {
		if desc, ok := stats.Describe(nn); ok {
			dist.NeighborRaw = desc
		}
		if clipped, ok := stats.SigmaClipped(nn, a.Config.CrossMatch.Sigma, a.Config.CrossMatch.MaxIters); ok {
			dist.NeighborClipped = clipped
		}
	}

	d := a.newDiagnostic(p, "distribution characteristics of the astrometric reference sources")
	d.AddDataItem("reference source distribution", dist)

	path := a.artifactPath(p.Stem() + diagnostic.SuffixRefDistribution)
	if err := d.WriteFile(path); err != nil {
		return "", err
	}
	a.Logger.WithField("artifact", path).Info("wrote reference source distribution")
	return path, nil
}

// newEngine builds a cross-match engine from the configuration.
func (a *Analyzer) newEngine() *crossmatch.Engine {
	e := crossmatch.NewEngine(a.Logger)
	e.GoodBits = a.Config.CrossMatch.GoodFlagSum
	e.Sigma = a.Config.CrossMatch.Sigma
	e.MaxIters = a.Config.CrossMatch.MaxIters
	e.Matcher = &crossmatch.KDTreeMatcher{Tolerance: a.Config.CrossMatch.Tolerance}
	return e
}

// newDiagnostic stamps an artifact container with a product's identity.
func (a *Analyzer) newDiagnostic(p *product.Product, description string) *diagnostic.Diagnostic {
	d := diagnostic.New(DataSource, description)
	d.Header.Telescope = p.Telescope
	d.Header.Instrument = p.Instrument
	d.Header.Detector = p.Detector
	d.Header.Filter = p.Filter
	d.Header.Sources = p.ConstituentImages()
	return d
}

// loadCatalogPair reads a product's point and segment catalogs and
// normalizes their position column names to X/Y.
func (a *Analyzer) loadCatalogPair(p *product.Product, w *wcs.TanWCS) (crossmatch.Input, crossmatch.Input, error) {
	var zero crossmatch.Input

	point, err := loadCatalog(p.PointCat, "X-Center", "Y-Center")
	if err != nil {
		return zero, zero, err
	}
	segment, err := loadCatalog(p.SegmentCat, "X-Centroid", "Y-Centroid")
	if err != nil {
		return zero, zero, err
	}

	frame := a.frameFor(p)
	return crossmatch.Input{Name: p.PointCat, Catalog: point, WCS: w, Frame: frame},
		crossmatch.Input{Name: p.SegmentCat, Catalog: segment, WCS: w, Frame: frame},
		nil
}

// loadCatalog reads one ECSV catalog and renames its native centroid
// columns to the X/Y names the matcher expects.
func loadCatalog(path, xCol, yCol string) (*catalog.Catalog, error) {
	cat, err := catalog.ReadECSV(path)
	if err != nil {
		return nil, err
	}
	if cat.HasColumn(xCol) {
		if err := cat.RenameColumn(xCol, "X"); err != nil {
			return nil, err
		}
	}
	if cat.HasColumn(yCol) {
		if err := cat.RenameColumn(yCol, "Y"); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

func xsOfPoints(pts []geometry.Point2D) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.X
	}
	return out
}

func ysOfPoints(pts []geometry.Point2D) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Y
	}
	return out
}
