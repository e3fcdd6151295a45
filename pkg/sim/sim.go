// Package sim generates synthetic measurement inputs for the exposure-time
// calculator: plain rate time series for tests, and mock guider packets for
// driving the full pipeline without a telescope.
package sim

import (
	"fmt"
	"math/rand/v2"
)

// Options controls a simulated measurement series.
type Options struct {
	// Interval is the time between measurements in seconds. The first
	// measurement occurs after Interval seconds, not at zero.
	Interval float64

	// RelAccuracy is the fractional RMS of the Gaussian noise added to
	// each measurement.
	RelAccuracy float64

	// Initial is the mean measurement value at time zero.
	Initial float64

	// Slope is the rate of change of the mean value per second.
	Slope float64
}

// DefaultOptions matches the fiducial guider cadence: one measurement per
// minute at 4% relative accuracy around a flat unit rate.
func DefaultOptions() Options {
	return Options{Interval: 60, RelAccuracy: 0.04, Initial: 1, Slope: 0}
}

// Measurements simulates a time series of signal or background rate
// measurements over the span of grid (an increasing elapsed-time vector).
// It returns the measurement times, noisy rates, their 1-sigma errors, and
// the noise-free truth tabulated on grid. Results are deterministic given
// rng.
func Measurements(grid []float64, opts Options, rng *rand.Rand) (dt, rate, sigma, truth []float64, err error) {
	if len(grid) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("sim: grid must not be empty")
	}
	if !(opts.Interval > 0) {
		return nil, nil, nil, nil, fmt.Errorf("sim: interval must be > 0, got %v", opts.Interval)
	}
	if opts.RelAccuracy < 0 {
		return nil, nil, nil, nil, fmt.Errorf("sim: relative accuracy must be >= 0, got %v", opts.RelAccuracy)
	}

	truth = make([]float64, len(grid))
	for i, t := range grid {
		truth[i] = opts.Initial + opts.Slope*t
	}

	n := int(grid[len(grid)-1] / opts.Interval)
	dt = make([]float64, n)
	rate = make([]float64, n)
	sigma = make([]float64, n)
	for i := 0; i < n; i++ {
		dt[i] = opts.Interval * float64(i+1)
		mean := opts.Initial + opts.Slope*dt[i]
		sigma[i] = opts.RelAccuracy * mean
		rate[i] = mean + sigma[i]*rng.NormFloat64()
	}
	return dt, rate, sigma, truth, nil
}
