// Package config loads the pipeline configuration: detection and
// matching parameters, statistics settings, and the per-image WCS
// parameters that upstream header extraction has exported.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

/* Example config file ...

detection:
  maxsources: 2000
  minarea: 2
  maxarea: 400

matching:
  searchradius: 5.0
  minmatches: 4
  timeoutseconds: 300

crossmatch:
  tolerance: 3.0
  goodflagsum: 255
  sigma: 3
  maxiters: 3

images:
  j92c01b9q_flc.fits:
    group: j92c01b9q_flc.fits
    crpix: [2048, 1024]
    crval: [210.802, 54.348]
    cd: [[-1.38e-5, 0], [0, 1.38e-5]]
    frame: icrs

*/

// DetectionOptions configures point-source extraction.
type DetectionOptions struct {
	MaxSources int     `yaml:"maxsources"`
	MinArea    float64 `yaml:"minarea"`
	MaxArea    float64 `yaml:"maxarea"`
}

// MatchingOptions configures the alignment matcher.
type MatchingOptions struct {
	SearchRadius   float64 `yaml:"searchradius"`
	MinMatches     int     `yaml:"minmatches"`
	RejectSigma    float64 `yaml:"rejectsigma"`
	RejectIters    int     `yaml:"rejectiters"`
	TimeoutSeconds int     `yaml:"timeoutseconds"`
}

// CrossMatchOptions configures the catalog cross-match statistics.
type CrossMatchOptions struct {
	Tolerance   float64 `yaml:"tolerance"`
	GoodFlagSum int     `yaml:"goodflagsum"`
	Sigma       float64 `yaml:"sigma"`
	MaxIters    int     `yaml:"maxiters"`
}

// ImageWCS is the exported tangent-plane WCS of one chip image.
type ImageWCS struct {
	Group string        `yaml:"group"`
	CRPix [2]float64    `yaml:"crpix"`
	CRVal [2]float64    `yaml:"crval"`
	CD    [2][2]float64 `yaml:"cd"`
	Frame string        `yaml:"frame"`
}

// Configuration is the root of the pipeline config file.
type Configuration struct {
	Detection  DetectionOptions    `yaml:"detection"`
	Matching   MatchingOptions     `yaml:"matching"`
	CrossMatch CrossMatchOptions   `yaml:"crossmatch"`
	OutputDir  string              `yaml:"outputdir"`
	Images     map[string]ImageWCS `yaml:"images"`
}

// NewConfiguration returns a configuration with pipeline defaults.
func NewConfiguration() Configuration {
	return Configuration{
		Detection: DetectionOptions{
			MaxSources: 2000,
			MinArea:    2,
			MaxArea:    400,
		},
		Matching: MatchingOptions{
			SearchRadius:   5.0,
			MinMatches:     4,
			RejectSigma:    3.0,
			RejectIters:    3,
			TimeoutSeconds: 300,
		},
		CrossMatch: CrossMatchOptions{
			Tolerance:   3.0,
			GoodFlagSum: 255,
			Sigma:       3,
			MaxIters:    3,
		},
		Images: map[string]ImageWCS{},
	}
}

// LoadConfiguration reads and finalizes a config file.
func LoadConfiguration(filename string) (Configuration, error) {
	c := NewConfiguration()

	contents, err := os.ReadFile(filename)
	if err != nil {
		return c, fmt.Errorf("read '%s': %w", filename, err)
	}
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %w", filename, err)
	}

	return c, c.Finalize()
}

// Finalize applies defaults for zero values and sanity-checks the rest.
func (c *Configuration) Finalize() error {
	def := NewConfiguration()
	if c.Detection.MaxSources <= 0 {
		c.Detection.MaxSources = def.Detection.MaxSources
	}
	if c.Matching.SearchRadius <= 0 {
		c.Matching.SearchRadius = def.Matching.SearchRadius
	}
	if c.Matching.MinMatches < 4 {
		c.Matching.MinMatches = def.Matching.MinMatches
	}
	if c.Matching.RejectSigma <= 0 {
		c.Matching.RejectSigma = def.Matching.RejectSigma
	}
	if c.Matching.RejectIters <= 0 {
		c.Matching.RejectIters = def.Matching.RejectIters
	}
	if c.CrossMatch.Tolerance <= 0 {
		c.CrossMatch.Tolerance = def.CrossMatch.Tolerance
	}
	if c.CrossMatch.GoodFlagSum <= 0 {
		c.CrossMatch.GoodFlagSum = def.CrossMatch.GoodFlagSum
	}
	if c.CrossMatch.Sigma <= 0 {
		c.CrossMatch.Sigma = def.CrossMatch.Sigma
	}
	if c.CrossMatch.MaxIters <= 0 {
		c.CrossMatch.MaxIters = def.CrossMatch.MaxIters
	}

	for name, img := range c.Images {
		if img.CD[0][0] == 0 && img.CD[0][1] == 0 {
			return fmt.Errorf("image '%s': degenerate CD matrix", name)
		}
	}
	return nil
}

// WCSFor builds the TanWCS for a named image, if configured.
func (c *Configuration) WCSFor(name string) (*wcs.TanWCS, bool) {
	img, ok := c.Images[name]
	if !ok {
		return nil, false
	}

	frame := wcs.Frame(img.Frame)
	if frame == "" {
		frame = wcs.FrameICRS
	}
	return &wcs.TanWCS{
		CRPix: geometry.Point2D{X: img.CRPix[0], Y: img.CRPix[1]},
		CRVal: geometry.Point2D{X: img.CRVal[0], Y: img.CRVal[1]},
		CD: geometry.AffineTransform{
			A: img.CD[0][0], B: img.CD[0][1],
			C: img.CD[1][0], D: img.CD[1][1],
		},
		Frame: frame,
	}, true
}
