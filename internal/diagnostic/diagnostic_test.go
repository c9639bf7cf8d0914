package diagnostic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStampsHeader(t *testing.T) {
	d := New("mosaicqa", "test artifact")
	if d.Header.DataSource != "mosaicqa" || d.Header.Description != "test artifact" {
		t.Errorf("header = %+v", d.Header)
	}
	if d.Header.Timestamp == "" {
		t.Error("timestamp not stamped")
	}
	if d.Header.RunID == "" {
		t.Error("run id not stamped")
	}

	other := New("mosaicqa", "another artifact")
	if other.Header.RunID == d.Header.RunID {
		t.Error("run ids collide across diagnostics")
	}
}

func TestAddDataItemPreservesOrder(t *testing.T) {
	d := New("mosaicqa", "ordering")
	d.AddDataItem("first", 1)
	d.AddDataItem("second", 2)
	if len(d.Items) != 2 || d.Items[0].Title != "first" || d.Items[1].Title != "second" {
		t.Errorf("items = %+v", d.Items)
	}
}

// A serialized artifact read back must carry the identical header and
// payload structure.
func TestWriteReadRoundTrip(t *testing.T) {
	d := New("mosaicqa", "round trip")
	d.Header.Telescope = "hst"
	d.Header.Instrument = "acs"
	d.Header.Detector = "wfc"
	d.Header.Filter = "f606w"
	d.Header.Sources = []string{"j92c01b4q_flc.fits", "j92c01b5q_flc.fits"}
	d.AddDataItem("number of sources", map[string]interface{}{
		"point":   float64(1203),
		"segment": float64(1187),
	})

	path := filepath.Join(t.TempDir(), "artifact.json")
	if err := d.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.RunID != d.Header.RunID || got.Header.Timestamp != d.Header.Timestamp {
		t.Errorf("header did not round-trip: %+v", got.Header)
	}
	if got.Header.Telescope != "hst" || got.Header.Filter != "f606w" {
		t.Errorf("identity fields did not round-trip: %+v", got.Header)
	}
	if len(got.Header.Sources) != 2 {
		t.Errorf("sources = %v", got.Header.Sources)
	}
	if len(got.Items) != 1 || got.Items[0].Title != "number of sources" {
		t.Fatalf("items = %+v", got.Items)
	}
	data, ok := got.Items[0].Data.(map[string]interface{})
	if !ok {
		t.Fatalf("payload type %T", got.Items[0].Data)
	}
	if data["point"] != float64(1203) {
		t.Errorf("payload = %v", data)
	}
}

func TestWriteFileReplacesStaleArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.json")
	if err := os.WriteFile(path, []byte(`{"header":{"run_id":"stale"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New("mosaicqa", "fresh")
	if err := d.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.RunID == "stale" {
		t.Error("stale artifact survived")
	}
}

func TestWriteFileProducesIndentedJSON(t *testing.T) {
	d := New("mosaicqa", "readable")
	d.AddDataItem("value", 1)
	path := filepath.Join(t.TempDir(), "artifact.json")
	if err := d.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(payload) {
		t.Fatal("artifact is not valid JSON")
	}
	if payload[0] != '{' || payload[1] != '\n' {
		t.Error("artifact is not indented")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing artifact read without error")
	}
}
