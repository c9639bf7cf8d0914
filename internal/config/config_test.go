package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mosaicqa.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewConfigurationDefaults(t *testing.T) {
	c := NewConfiguration()
	if c.Detection.MaxSources != 2000 {
		t.Errorf("MaxSources = %d", c.Detection.MaxSources)
	}
	if c.Matching.SearchRadius != 5.0 || c.Matching.MinMatches != 4 {
		t.Errorf("matching defaults = %+v", c.Matching)
	}
	if c.CrossMatch.GoodFlagSum != 255 || c.CrossMatch.Tolerance != 3.0 {
		t.Errorf("crossmatch defaults = %+v", c.CrossMatch)
	}
	if c.CrossMatch.Sigma != 3 || c.CrossMatch.MaxIters != 3 {
		t.Errorf("clip defaults = %+v", c.CrossMatch)
	}
}

func TestLoadConfiguration(t *testing.T) {
	path := writeTempConfig(t, `
detection:
  maxsources: 500

matching:
  searchradius: 2.5
  timeoutseconds: 60

crossmatch:
  tolerance: 1.5

outputdir: qa-out

images:
  j92c01b4q_flc.fits:
    group: j92c01b4q_flc.fits
    crpix: [2048, 1024]
    crval: [210.802, 54.348]
    cd: [[-1.38e-5, 0], [0, 1.38e-5]]
    frame: icrs
`)

	c, err := LoadConfiguration(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Detection.MaxSources != 500 {
		t.Errorf("MaxSources = %d, want 500", c.Detection.MaxSources)
	}
	if c.Matching.SearchRadius != 2.5 || c.Matching.TimeoutSeconds != 60 {
		t.Errorf("matching = %+v", c.Matching)
	}
	// Unset values fall back to defaults during finalization.
	if c.Matching.MinMatches != 4 {
		t.Errorf("MinMatches = %d, want default 4", c.Matching.MinMatches)
	}
	if c.CrossMatch.Tolerance != 1.5 || c.CrossMatch.GoodFlagSum != 255 {
		t.Errorf("crossmatch = %+v", c.CrossMatch)
	}
	if c.OutputDir != "qa-out" {
		t.Errorf("OutputDir = %s", c.OutputDir)
	}

	w, ok := c.WCSFor("j92c01b4q_flc.fits")
	if !ok {
		t.Fatal("configured image has no WCS")
	}
	if w.CRPix.X != 2048 || w.CRVal.Y != 54.348 {
		t.Errorf("WCS = %+v", w)
	}
	if w.CD.A != -1.38e-5 || w.CD.D != 1.38e-5 {
		t.Errorf("CD = %+v", w.CD)
	}
	if string(w.Frame) != "icrs" {
		t.Errorf("Frame = %s", w.Frame)
	}

	if _, ok := c.WCSFor("unknown.fits"); ok {
		t.Error("unknown image reported a WCS")
	}
}

func TestLoadConfigurationRejectsDegenerateCD(t *testing.T) {
	path := writeTempConfig(t, `
images:
  bad.fits:
    crpix: [1, 1]
    crval: [10, 10]
    cd: [[0, 0], [0, 1]]
`)
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("degenerate CD matrix accepted")
	}
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	if _, err := LoadConfiguration(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config read without error")
	}
}
