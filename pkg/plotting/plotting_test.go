package plotting

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func testSeries() RateSeries {
	return RateSeries{
		ObsTime:   []float64{60, 120, 180},
		ObsRate:   []float64{0.98, 1.02, 1.01},
		ObsSigma:  []float64{0.04, 0.04, 0.04},
		Grid:      []float64{0, 60, 120, 180, 240},
		Mean:      []float64{1.0, 0.99, 1.01, 1.01, 1.0},
		MeanSigma: []float64{0.1, 0.04, 0.03, 0.04, 0.1},
	}
}

func TestPlotRates(t *testing.T) {
	img, err := PlotRates(testSeries(), "Signal rate", 640, 480)
	if err != nil {
		t.Fatalf("PlotRates() error = %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 640 || bounds.Dy() != 480 {
		t.Errorf("image size = %dx%d, want 640x480", bounds.Dx(), bounds.Dy())
	}
}

func TestPlotRates_NoObservations(t *testing.T) {
	series := testSeries()
	series.ObsTime = nil
	series.ObsRate = nil
	series.ObsSigma = nil

	if _, err := PlotRates(series, "Signal rate", 640, 480); err != nil {
		t.Fatalf("PlotRates() with no observations error = %v", err)
	}
}

func TestPlotRates_MismatchedLengths(t *testing.T) {
	series := testSeries()
	series.Mean = series.Mean[:2]
	if _, err := PlotRates(series, "Signal rate", 640, 480); err == nil {
		t.Error("expected error for mismatched grid/mean lengths")
	}

	series = testSeries()
	series.ObsSigma = series.ObsSigma[:1]
	if _, err := PlotRates(series, "Signal rate", 640, 480); err == nil {
		t.Error("expected error for mismatched observation lengths")
	}
}

func TestPlotSNR(t *testing.T) {
	grid := []float64{0, 500, 1000, 1500, 2000}
	snr := []float64{0, 2.9, 4.1, 5.0, 5.8}

	// Interior crossing: marker drawn
	img, err := PlotSNR(grid, snr, 5.0, 1500, 640, 480)
	if err != nil {
		t.Fatalf("PlotSNR() error = %v", err)
	}
	if img.Bounds().Dx() != 640 {
		t.Errorf("image width = %d, want 640", img.Bounds().Dx())
	}

	// Crossing at cutoff: goal not reached, no marker
	if _, err := PlotSNR(grid, snr, 100.0, 2000, 640, 480); err != nil {
		t.Fatalf("PlotSNR() at cutoff error = %v", err)
	}

	if _, err := PlotSNR(grid, snr[:3], 5.0, 1500, 640, 480); err == nil {
		t.Error("expected error for mismatched grid/snr lengths")
	}
}

func TestSavePNG_RoundTrip(t *testing.T) {
	img, err := PlotSNR([]float64{0, 1000}, []float64{0, 3}, 5, 1000, 320, 240)
	if err != nil {
		t.Fatalf("PlotSNR() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "snr.png")
	if err := SavePNG(path, img); err != nil {
		t.Fatalf("SavePNG() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening saved plot: %v", err)
	}
	defer f.Close()

	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("saved file is not a valid PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 320 || decoded.Bounds().Dy() != 240 {
		t.Errorf("decoded size = %dx%d, want 320x240", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}
