package residuals

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	rms := 0.042
	records := map[string]*ImageGroup{
		"ref_exp": {GroupID: 1, Type: RoleReference,
			X: []float64{}, Y: []float64{}, RefX: []float64{}, RefY: []float64{}},
		"img_exp": {GroupID: 2, Type: RoleImage,
			X: []float64{1.5, 2.5}, Y: []float64{3, 4},
			RefX: []float64{1, 2}, RefY: []float64{3.3, 4.3},
			RMSX: &rms, RMSY: &rms,
			FitParams: &FitParams{XSh: 0.5, YSh: -0.3, Scale: 1, NMatches: 2},
		},
	}

	path := filepath.Join(t.TempDir(), "test_astrometry_resids.json")
	if err := WriteFile(path, records); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}

	ref := got["ref_exp"]
	if ref.Type != RoleReference || len(ref.X) != 0 || ref.RMSX != nil || ref.FitParams != nil {
		t.Errorf("reference record did not round-trip: %+v", ref)
	}

	img := got["img_exp"]
	if img.Type != RoleImage || len(img.X) != 2 || img.X[0] != 1.5 {
		t.Errorf("image record did not round-trip: %+v", img)
	}
	if img.RMSX == nil || *img.RMSX != rms {
		t.Error("RMS did not round-trip")
	}
	if img.FitParams == nil || img.XSh != 0.5 || img.YSh != -0.3 || img.NMatches != 2 {
		t.Errorf("fit parameters did not round-trip: %+v", img.FitParams)
	}
}

func TestWriteFileReplacesStaleArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.json")
	if err := os.WriteFile(path, []byte("{\"old\": {}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	records := map[string]*ImageGroup{"fresh": {GroupID: 1, Type: RoleReference}}
	if err := WriteFile(path, records); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, stale := got["old"]; stale {
		t.Error("stale record survived rewrite")
	}
	if _, ok := got["fresh"]; !ok {
		t.Error("fresh record missing")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing artifact read without error")
	}
}
