// Package product models the drizzled data products the quality analyses
// run against and the filename convention their identity is encoded in.
//
// A product is either a composite (total or filter product drizzled from
// several exposures) or a single exposure. The two kinds differ only in
// how they enumerate their constituent images, so that capability is
// implemented once per kind instead of being sniffed dynamically.
package product

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind distinguishes composite products from single exposures.
type Kind int

const (
	// KindComposite is a total or filter product with child exposures.
	KindComposite Kind = iota
	// KindExposure is a single-exposure product.
	KindExposure
)

// Product identifies one drizzled data product and its catalogs.
type Product struct {
	Kind Kind

	DrizzleFile string // drizzled image filename
	PointCat    string // point-source catalog filename
	SegmentCat  string // segmentation catalog filename

	Telescope  string
	ProposalID string
	Visit      string
	Instrument string
	Detector   string
	Filter     string // empty for total products
	IPPPSS     string

	Exposures []string // constituent exposure images (composite only)
	Image     string   // the single exposure image (exposure only)
}

// Catalog filename suffixes produced by the detection pipelines.
const (
	PointCatSuffix   = "_point-cat.ecsv"
	SegmentCatSuffix = "_segment-cat.ecsv"
)

// FromDrizzleFile parses a drizzle filename of the form
//
//	hst_<proposal>_<visit>_<instrument>_<detector>_<filter|total>_<ipppss>_dr{z,c}.fits
//
// into a composite Product. The filename is all lower-case by convention.
func FromDrizzleFile(name string) (*Product, error) {
	base := filepath.Base(name)
	tokens := strings.Split(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if len(tokens) != 8 {
		return nil, fmt.Errorf("drizzle filename %q: want 8 underscore tokens, got %d", name, len(tokens))
	}

	p := &Product{
		Kind:        KindComposite,
		DrizzleFile: name,
		Telescope:   tokens[0],
		ProposalID:  tokens[1],
		Visit:       tokens[2],
		Instrument:  tokens[3],
		Detector:    tokens[4],
		IPPPSS:      tokens[6],
	}
	if tokens[5] != "total" {
		p.Filter = tokens[5]
	}

	prefix := strings.Join(tokens[:7], "_")
	p.PointCat = prefix + PointCatSuffix
	p.SegmentCat = prefix + SegmentCatSuffix
	return p, nil
}

// NewExposure builds a single-exposure product for one input image.
func NewExposure(drizzleFile, image string) (*Product, error) {
	p, err := FromDrizzleFile(drizzleFile)
	if err != nil {
		return nil, err
	}
	p.Kind = KindExposure
	p.Image = image
	p.Exposures = nil
	return p, nil
}

// ConstituentImages returns the input images behind this product: the
// child exposure list for composites, the single image for exposures.
func (p *Product) ConstituentImages() []string {
	switch p.Kind {
	case KindExposure:
		if p.Image == "" {
			return nil
		}
		return []string{p.Image}
	default:
		return p.Exposures
	}
}

// Stem returns the artifact-name stem: the drizzle filename with its
// "_dr?.fits" tail removed.
func (p *Product) Stem() string {
	return DrizzleStem(p.DrizzleFile)
}

// DrizzleStem strips the "_drz.fits"/"_drc.fits" tail from a drizzle
// filename.
func DrizzleStem(name string) string {
	for _, tail := range []string{"_drz.fits", "_drc.fits"} {
		if strings.HasSuffix(name, tail) {
			return strings.TrimSuffix(name, tail)
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
