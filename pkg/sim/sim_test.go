package sim

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
)

func TestMeasurements(t *testing.T) {
	grid := make([]float64, 101)
	for i := range grid {
		grid[i] = float64(i) * 50 // 0..5000 s
	}

	opts := DefaultOptions()
	opts.Slope = 1e-5
	rng := rand.New(rand.NewPCG(1, 2))

	dt, rate, sigma, truth, err := Measurements(grid, opts, rng)
	if err != nil {
		t.Fatalf("Measurements() error = %v", err)
	}

	wantN := int(grid[len(grid)-1] / opts.Interval)
	if len(dt) != wantN || len(rate) != wantN || len(sigma) != wantN {
		t.Fatalf("got %d/%d/%d measurements, want %d", len(dt), len(rate), len(sigma), wantN)
	}
	if dt[0] != opts.Interval {
		t.Errorf("first measurement at %v, want one interval in (%v)", dt[0], opts.Interval)
	}
	if len(truth) != len(grid) {
		t.Fatalf("truth length = %d, want %d", len(truth), len(grid))
	}
	for i, tr := range truth {
		want := opts.Initial + opts.Slope*grid[i]
		if tr != want {
			t.Fatalf("truth[%d] = %v, want %v", i, tr, want)
		}
	}
	for i := range dt {
		mean := opts.Initial + opts.Slope*dt[i]
		if got := sigma[i]; got != opts.RelAccuracy*mean {
			t.Errorf("sigma[%d] = %v, want %v", i, got, opts.RelAccuracy*mean)
		}
		// Noisy but not wild: 6 sigma is conservative for 83 draws.
		if math.Abs(rate[i]-mean) > 6*sigma[i] {
			t.Errorf("rate[%d] = %v, implausibly far from mean %v", i, rate[i], mean)
		}
	}
}

func TestMeasurements_Deterministic(t *testing.T) {
	grid := []float64{0, 1000}
	opts := DefaultOptions()

	_, a, _, _, err := Measurements(grid, opts, rand.New(rand.NewPCG(3, 4)))
	if err != nil {
		t.Fatalf("Measurements() error = %v", err)
	}
	_, b, _, _, err := Measurements(grid, opts, rand.New(rand.NewPCG(3, 4)))
	if err != nil {
		t.Fatalf("Measurements() error = %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("rate[%d] differs across identically seeded runs: %v != %v", i, a[i], b[i])
		}
	}
}

func TestMeasurements_Validation(t *testing.T) {
	rng := rand.New(rand.NewPCG(0, 0))
	if _, _, _, _, err := Measurements(nil, DefaultOptions(), rng); err == nil {
		t.Error("Measurements() accepted empty grid, want error")
	}
	opts := DefaultOptions()
	opts.Interval = 0
	if _, _, _, _, err := Measurements([]float64{0, 100}, opts, rng); err == nil {
		t.Error("Measurements() accepted zero interval, want error")
	}
	opts = DefaultOptions()
	opts.RelAccuracy = -1
	if _, _, _, _, err := Measurements([]float64{0, 100}, opts, rng); err == nil {
		t.Error("Measurements() accepted negative accuracy, want error")
	}
}

func TestGuiderStream(t *testing.T) {
	const t0 = 1e6
	opts := DefaultGuiderOptions()
	stream := NewGuiderStream(t0, opts, rand.New(rand.NewPCG(5, 6)))

	if got := stream.NextAt(); got != t0+opts.Cadence {
		t.Fatalf("NextAt() = %v, want %v", got, t0+opts.Cadence)
	}

	for i := 0; i < 5; i++ {
		wantT := t0 + float64(i+1)*opts.Cadence
		raw, err := stream.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}

		var p struct {
			Timestamp float64 `json:"timestamp"`
			Guider    struct {
				SeeingFWHM float64 `json:"seeing_fwhm"`
				Flux       float64 `json:"flux"`
				FluxErr    float64 `json:"flux_err"`
			} `json:"guider"`
			Sky struct {
				Flux    float64 `json:"flux"`
				FluxErr float64 `json:"flux_err"`
			} `json:"sky"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("packet %d is not valid JSON: %v", i, err)
		}
		if p.Timestamp != wantT {
			t.Errorf("packet %d timestamp = %v, want %v", i, p.Timestamp, wantT)
		}
		if p.Guider.SeeingFWHM <= 0 {
			t.Errorf("packet %d seeing = %v, want > 0", i, p.Guider.SeeingFWHM)
		}
		if p.Guider.FluxErr <= 0 || p.Sky.FluxErr <= 0 {
			t.Errorf("packet %d flux errors = (%v, %v), want > 0", i, p.Guider.FluxErr, p.Sky.FluxErr)
		}
	}
}
