package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMedian(t *testing.T) {
	cases := []struct {
		name string
		data []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"negative", []float64{-5, -1, -3}, -3},
	}
	for _, tc := range cases {
		if got := Median(tc.data); got != tc.want {
			t.Errorf("%s: Median = %v, want %v", tc.name, got, tc.want)
		}
	}
	if !math.IsNaN(Median(nil)) {
		t.Error("Median of empty input should be NaN")
	}
}

func TestMedianDoesNotModifyInput(t *testing.T) {
	data := []float64{3, 1, 2}
	Median(data)
	if data[0] != 3 || data[1] != 1 || data[2] != 2 {
		t.Errorf("input reordered: %v", data)
	}
}

func TestPopStdDev(t *testing.T) {
	// Population std of {2, 4, 4, 4, 5, 5, 7, 9} is exactly 2.
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := PopStdDev(data); !almostEqual(got, 2, 1e-12) {
		t.Errorf("PopStdDev = %v, want 2", got)
	}
	if got := PopStdDev([]float64{42}); got != 0 {
		t.Errorf("PopStdDev of one sample = %v, want 0", got)
	}
	if !math.IsNaN(PopStdDev(nil)) {
		t.Error("PopStdDev of empty input should be NaN")
	}
}

func TestDescribe(t *testing.T) {
	d, ok := Describe([]float64{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("Describe reported failure for valid input")
	}
	if d.Min != 1 || d.Max != 5 {
		t.Errorf("range = [%v, %v], want [1, 5]", d.Min, d.Max)
	}
	if !almostEqual(d.Mean, 3, 1e-12) || d.Median != 3 {
		t.Errorf("center: mean=%v median=%v, want 3", d.Mean, d.Median)
	}
	if !almostEqual(d.Std, math.Sqrt(2), 1e-12) {
		t.Errorf("Std = %v, want sqrt(2)", d.Std)
	}

	if _, ok := Describe(nil); ok {
		t.Error("Describe of empty input should report failure")
	}
}

func TestSigmaClipRemovesOutlier(t *testing.T) {
	data := []float64{1, 1.1, 0.9, 1.05, 0.95, 1.02, 0.98, 100}
	kept := SigmaClip(data, 3, 5)
	if len(kept) != len(data)-1 {
		t.Fatalf("kept %d samples, want %d", len(kept), len(data)-1)
	}
	for _, v := range kept {
		if v == 100 {
			t.Fatal("outlier survived clipping")
		}
	}
}

// Clipping a sample that holds no outliers must return it unchanged, and
// a second application of the clip must be a no-op.
func TestSigmaClipIdempotent(t *testing.T) {
	data := []float64{0.9, 1.0, 1.1, 1.0, 0.95, 1.05, 1.02, 0.98, 50}

	once := SigmaClip(data, 3, 5)
	twice := SigmaClip(once, 3, 5)
	if len(once) != len(twice) {
		t.Fatalf("second clip changed the sample: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("sample %d changed: %v -> %v", i, once[i], twice[i])
		}
	}
}

func TestSigmaClipConstantInput(t *testing.T) {
	data := []float64{5, 5, 5, 5}
	kept := SigmaClip(data, 3, 5)
	if len(kept) != 4 {
		t.Errorf("constant input clipped to %d samples, want 4", len(kept))
	}
}

func TestSigmaClipped(t *testing.T) {
	data := []float64{1, 1.1, 0.9, 1.05, 0.95, 1.02, 0.98, 1000}
	c, ok := SigmaClipped(data, 3, 5)
	if !ok {
		t.Fatal("SigmaClipped reported failure")
	}
	if c.Sigma != 3 || c.MaxIters != 5 {
		t.Errorf("parameters not recorded: sigma=%v iters=%d", c.Sigma, c.MaxIters)
	}
	if c.Mean > 2 {
		t.Errorf("clipped mean %v still dominated by outlier", c.Mean)
	}

	if _, ok := SigmaClipped(nil, 3, 5); ok {
		t.Error("SigmaClipped of empty input should report failure")
	}
}

func TestClippedStdDev(t *testing.T) {
	// Symmetric residuals around zero; no outliers, population std.
	data := []float64{-1, 1, -1, 1}
	got, ok := ClippedStdDev(data)
	if !ok {
		t.Fatal("ClippedStdDev reported failure")
	}
	if !almostEqual(got, 1, 1e-12) {
		t.Errorf("ClippedStdDev = %v, want 1", got)
	}

	if _, ok := ClippedStdDev(nil); ok {
		t.Error("ClippedStdDev of empty input should report failure")
	}
}
