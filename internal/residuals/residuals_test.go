package residuals

import (
	"encoding/json"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"mosaicqa/internal/align"
	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func chipWCS() *wcs.TanWCS {
	return wcs.NewTanWCS(512, 512, 210.80, 54.35, 0.04/3600)
}

func lineCatalog(n int, x0 float64) []geometry.Point2D {
	pts := make([]geometry.Point2D, n)
	for i := range pts {
		pts[i] = geometry.Point2D{X: x0 + float64(i)*50, Y: 300 + float64(i)*40}
	}
	return pts
}

// successFit fakes a converged group fit: every catalog source matched
// in order against the reference buffer, fitted sky positions derived
// from the catalog pixels displaced by (dx, dy).
func successFit(w *wcs.TanWCS, catalog []geometry.Point2D, dx, dy float64) *align.FitResult {
	fit := &align.FitResult{
		Status:   align.StatusSuccess,
		Shift:    [2]float64{dx, dy},
		Scale:    1,
		NMatches: len(catalog),
	}
	for i, p := range catalog {
		fit.MatchedInputIdx = append(fit.MatchedInputIdx, i)
		fit.MatchedRefIdx = append(fit.MatchedRefIdx, i)
		fit.FitMask = append(fit.FitMask, true)
		ra, dec := w.PixelToWorld(p.X+dx, p.Y+dy)
		fit.FitRA = append(fit.FitRA, ra)
		fit.FitDec = append(fit.FitDec, dec)
	}
	return fit
}

func TestExtractReferenceOnlyRecord(t *testing.T) {
	w := chipWCS()
	cat := lineCatalog(4, 100)
	chips := []*align.ChipRecord{
		{GroupID: 1, GroupName: "ref_exp", Catalog: cat, WCS: w,
			Fit: &align.FitResult{Status: align.StatusReference}},
	}

	records, err := Extract(chips, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := records["ref_exp"]
	if !ok {
		t.Fatal("reference record missing")
	}
	if rec.Type != RoleReference {
		t.Errorf("Type = %s, want REFERENCE", rec.Type)
	}
	if len(rec.X) != 0 || len(rec.Y) != 0 || len(rec.RefX) != 0 || len(rec.RefY) != 0 {
		t.Error("reference record carries matched positions")
	}
	if rec.RMSX != nil || rec.RMSY != nil {
		t.Error("reference record carries RMS values")
	}
	if rec.FitParams != nil {
		t.Error("reference record carries fit parameters")
	}

	// The JSON rendition must keep the empty slices as [] and omit the
	// fit parameter fields entirely.
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	s := string(payload)
	if !strings.Contains(s, `"x":[]`) {
		t.Errorf("empty positions serialized unexpectedly: %s", s)
	}
	if !strings.Contains(s, `"rms_x":null`) {
		t.Errorf("nil RMS serialized unexpectedly: %s", s)
	}
	if strings.Contains(s, `"xsh"`) {
		t.Errorf("fit parameters leaked into reference record: %s", s)
	}
}

// A converged group whose fit mask rejects every matched pair still gets
// a record, with empty position arrays, nil RMS and the fit parameters
// carried through.
func TestExtractAllPairsMasked(t *testing.T) {
	w := chipWCS()
	refCat := lineCatalog(4, 100)
	imgCat := lineCatalog(4, 100)

	imgFit := &align.FitResult{
		Status:          align.StatusSuccess,
		Shift:           [2]float64{0.25, -0.75},
		Scale:           1,
		NMatches:        4,
		MatchedInputIdx: []int{0, 1, 2, 3},
		MatchedRefIdx:   []int{0, 1, 2, 3},
		FitMask:         []bool{false, false, false, false},
	}
	chips := []*align.ChipRecord{
		{GroupID: 1, GroupName: "ref_exp", Catalog: refCat, WCS: w,
			Fit: &align.FitResult{Status: align.StatusReference}},
		{GroupID: 2, GroupName: "img_exp", Catalog: imgCat, WCS: w, Fit: imgFit},
	}

	records, err := Extract(chips, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := records["img_exp"]
	if !ok {
		t.Fatal("image record missing")
	}
	if rec.Type != RoleImage {
		t.Errorf("Type = %s, want IMAGE", rec.Type)
	}
	if len(rec.X) != 0 || len(rec.Y) != 0 || len(rec.RefX) != 0 || len(rec.RefY) != 0 {
		t.Errorf("masked-out group accumulated %d pairs", len(rec.X))
	}
	if rec.RMSX != nil || rec.RMSY != nil {
		t.Error("RMS computed with no surviving pairs")
	}
	if rec.FitParams == nil {
		t.Fatal("fit parameters dropped")
	}
	if rec.FitParams.XSh != 0.25 || rec.FitParams.YSh != -0.75 || rec.FitParams.NMatches != 4 {
		t.Errorf("fit parameters = %+v", rec.FitParams)
	}
}

func TestExtractRecoversAppliedOffset(t *testing.T) {
	const dx, dy = 0.5, -0.3
	w := chipWCS()
	refCat := lineCatalog(6, 100)
	imgCat := lineCatalog(6, 100)

	refFit := &align.FitResult{Status: align.StatusReference}
	imgFit := successFit(w, imgCat, dx, dy)

	chips := []*align.ChipRecord{
		// Image chips listed first: phase ordering must not depend on
		// input order.
		{GroupID: 2, GroupName: "img_exp", Catalog: imgCat, WCS: w, Fit: imgFit},
		{GroupID: 1, GroupName: "ref_exp", Catalog: refCat, WCS: w, Fit: refFit},
	}

	records, err := Extract(chips, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := records["img_exp"]
	if !ok {
		t.Fatal("image record missing")
	}
	if rec.Type != RoleImage {
		t.Errorf("Type = %s, want IMAGE", rec.Type)
	}
	if len(rec.X) != 6 || len(rec.RefX) != 6 {
		t.Fatalf("accumulated %d/%d pairs, want 6", len(rec.X), len(rec.RefX))
	}

	for i := range rec.X {
		if math.Abs((rec.X[i]-rec.RefX[i])-dx) > 1e-3 {
			t.Errorf("pair %d: x residual = %v, want %v", i, rec.X[i]-rec.RefX[i], dx)
		}
		if math.Abs((rec.Y[i]-rec.RefY[i])-dy) > 1e-3 {
			t.Errorf("pair %d: y residual = %v, want %v", i, rec.Y[i]-rec.RefY[i], dy)
		}
	}

	// A constant offset leaves almost no scatter.
	if rec.RMSX == nil || rec.RMSY == nil {
		t.Fatal("image record has no RMS values")
	}
	if *rec.RMSX > 1e-3 || *rec.RMSY > 1e-3 {
		t.Errorf("RMS = (%v, %v), want ~0 for a pure shift", *rec.RMSX, *rec.RMSY)
	}

	if rec.FitParams == nil {
		t.Fatal("image record has no fit parameters")
	}
	if rec.XSh != dx || rec.YSh != dy {
		t.Errorf("fit shift = (%v, %v), want (%v, %v)", rec.XSh, rec.YSh, dx, dy)
	}
	if rec.NMatches != 6 {
		t.Errorf("nmatches = %d, want 6", rec.NMatches)
	}
}

// A group split across two chips must resolve each chip's share of the
// matched pairs through its own window of the concatenated catalog.
func TestExtractMultiChipGroupWindows(t *testing.T) {
	w := chipWCS()
	refCat := lineCatalog(8, 100)
	chipACat := lineCatalog(4, 100)
	chipBCat := lineCatalog(4, 300)

	// One shared fit covering the group's concatenated 8 sources.
	concat := append(append([]geometry.Point2D{}, chipACat...), chipBCat...)
	imgFit := successFit(w, concat, 0.2, 0.1)

	chips := []*align.ChipRecord{
		{GroupID: 1, GroupName: "ref_exp", Catalog: refCat, WCS: w,
			Fit: &align.FitResult{Status: align.StatusReference}},
		{GroupID: 2, GroupName: "img_exp", Catalog: chipACat, WCS: w, Fit: imgFit},
		{GroupID: 2, GroupName: "img_exp", Catalog: chipBCat, WCS: w, Fit: imgFit},
	}

	records, err := Extract(chips, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec := records["img_exp"]
	if rec == nil {
		t.Fatal("image record missing")
	}
	if len(rec.X) != 8 {
		t.Errorf("accumulated %d pairs across two chips, want 8", len(rec.X))
	}
}

func TestExtractSkipsFailedGroup(t *testing.T) {
	w := chipWCS()
	chips := []*align.ChipRecord{
		{GroupName: "ref_exp", Catalog: lineCatalog(4, 100), WCS: w,
			Fit: &align.FitResult{Status: align.StatusReference}},
		{GroupName: "bad_exp", Catalog: lineCatalog(4, 100), WCS: w,
			Fit: &align.FitResult{Status: align.StatusFailed}},
	}

	records, err := Extract(chips, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := records["bad_exp"]; ok {
		t.Error("failed group produced a residual record")
	}
	if _, ok := records["ref_exp"]; !ok {
		t.Error("reference record missing")
	}
}

func TestExtractContractErrors(t *testing.T) {
	w := chipWCS()
	cat := lineCatalog(3, 100)
	ref := &align.ChipRecord{GroupName: "ref", Catalog: cat, WCS: w,
		Fit: &align.FitResult{Status: align.StatusReference}}

	if _, err := Extract(nil, quietLogger()); err == nil {
		t.Error("empty input accepted")
	}

	ragged := successFit(w, cat, 0, 0)
	ragged.MatchedRefIdx = ragged.MatchedRefIdx[:2]
	if _, err := Extract([]*align.ChipRecord{ref,
		{GroupName: "img", Catalog: cat, WCS: w, Fit: ragged}}, quietLogger()); err == nil {
		t.Error("ragged matched indices accepted")
	}

	short := successFit(w, cat, 0, 0)
	short.FitRA = short.FitRA[:1]
	if _, err := Extract([]*align.ChipRecord{ref,
		{GroupName: "img", Catalog: cat, WCS: w, Fit: short}}, quietLogger()); err == nil {
		t.Error("short fitted position arrays accepted")
	}

	unknown := &align.FitResult{Status: align.FitStatus("MAYBE")}
	if _, err := Extract([]*align.ChipRecord{ref,
		{GroupName: "img", Catalog: cat, WCS: w, Fit: unknown}}, quietLogger()); err == nil {
		t.Error("unknown fit status accepted")
	}

	if _, err := Extract([]*align.ChipRecord{
		{GroupName: "nofit", Catalog: cat, WCS: w}}, quietLogger()); err == nil {
		t.Error("chip without fit accepted")
	}
}
