// Package diagnostic assembles computed quality statistics into the
// structured JSON artifacts consumed by downstream reporting. One
// artifact per logical unit of work; names are derived deterministically
// from the product filename stem plus a suffix identifying the analysis.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Suffixes of the quality artifacts, appended to a product stem.
const (
	SuffixAstrometryResids = "_astrometry_resids.json"
	SuffixNumSources       = "_svm_num_sources.json"
	SuffixPhotometry       = "_svm_photometry.json"
	SuffixCrossMatch       = "_svm_point_segment_crossmatch.json"
	SuffixGaiaSources      = "_svm_gaia_sources.json"
	SuffixRefDistribution  = "_svm_ref_distribution.json"
)

// Header identifies the run and the product a diagnostic describes.
type Header struct {
	Timestamp   string   `json:"timestamp"`
	RunID       string   `json:"run_id"`
	DataSource  string   `json:"data_source"`
	Description string   `json:"description"`
	Telescope   string   `json:"telescope,omitempty"`
	Instrument  string   `json:"instrument,omitempty"`
	Detector    string   `json:"detector,omitempty"`
	Filter      string   `json:"filter,omitempty"`
	Sources     []string `json:"source_files,omitempty"`
}

// Item is one named payload inside a diagnostic, kept in insertion order.
type Item struct {
	Title string      `json:"title"`
	Data  interface{} `json:"data"`
}

// Diagnostic is a write-once container for one output artifact.
type Diagnostic struct {
	Header Header `json:"header"`
	Items  []Item `json:"data"`
}

// New creates a diagnostic stamped with the current time and a fresh
// run id.
func New(dataSource, description string) *Diagnostic {
	return &Diagnostic{
		Header: Header{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			RunID:       uuid.NewString(),
			DataSource:  dataSource,
			Description: description,
		},
	}
}

// AddDataItem appends a named payload.
func (d *Diagnostic) AddDataItem(title string, data interface{}) {
	d.Items = append(d.Items, Item{Title: title, Data: data})
}

// WriteFile serializes the diagnostic to path, replacing any previous
// artifact at the same path.
func (d *Diagnostic) WriteFile(path string) error {
	// Remove any previously computed results first so a failed write
	// cannot leave a stale artifact pretending to be current.
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale artifact %s: %w", path, err)
		}
	}

	buf, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode diagnostic %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write diagnostic %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a previously written diagnostic. Payloads come back as
// generic JSON values.
func ReadFile(path string) (*Diagnostic, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diagnostic %s: %w", path, err)
	}
	var d Diagnostic
	if err := json.Unmarshal(buf, &d); err != nil {
		return nil, fmt.Errorf("decode diagnostic %s: %w", path, err)
	}
	return &d, nil
}
