// Package etc implements the exposure-time calculator: a real-time forecast
// of whether a target signal-to-noise ratio will be reached before the
// maximum exposure duration, and of how much time remains.
//
// A Calculator models the time evolution of two statistically independent
// rate estimators, signal and background, each as a correlated-noise
// regression (pkg/ratemodel) over the raw updates it has received so far
// plus a prior. The target SNR is S/sqrt(S+B) where S = alpha·s and
// B = beta·b are calibrated versions of the raw estimates s and b; alpha and
// beta carry their own errors, which are propagated into the sampled SNR
// confidence intervals.
//
// One Calculator serves one exposure: construct it when the shutter opens,
// feed it UpdateSignal/UpdateBackground as measurements arrive (in any time
// order), and poll WillTimeout, Remaining, and SNRNow at any cadence. The
// Calculator is synchronous and not safe for concurrent use; a multi-
// threaded host must serialize access around the update/query pair.
package etc

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/snrcast/pkg/ratemodel"
)

// Defaults for the forecast horizon and grid resolution.
const (
	DefaultDTMax = 5000.0
	DefaultNPred = 1000
)

// ErrNonMonotonicSNR reports that a recomputed nominal SNR curve decreased
// somewhere along the grid. Both integrands are non-negative for any sane
// fit, so a decrease means the forecast state is numerically broken and the
// exposure should be discarded.
var ErrNonMonotonicSNR = errors.New("etc: nominal SNR curve is not non-decreasing")

// Config carries the full construction-time configuration of a Calculator.
type Config struct {
	// Alpha converts the raw signal rate into a dimensionless, Poisson-
	// countable calibrated rate. Must be > 0. DAlpha is its 1-sigma error,
	// >= 0.
	Alpha, DAlpha float64

	// Beta and DBeta are the corresponding background calibration.
	Beta, DBeta float64

	// Signal and Background are the priors on the two raw rate channels.
	Signal, Background ratemodel.Prior

	// T0 is the timestamp when the shutter opened, in seconds with an
	// arbitrary origin.
	T0 float64

	// SNRGoal is the calibrated SNR the exposure is trying to reach.
	// Must be > 0.
	SNRGoal float64

	// DTMax is the maximum allowed exposure duration in seconds.
	// Zero selects DefaultDTMax.
	DTMax float64

	// NPred is the number of equally spaced grid times spanning [0, DTMax]
	// at which predictions are evaluated. Zero selects DefaultNPred.
	NPred int

	// Seed seeds the per-instance random source used for sampling, so two
	// calculators with equal seeds and call sequences agree exactly.
	Seed uint64
}

func (cfg *Config) applyDefaults() {
	if cfg.DTMax == 0 {
		cfg.DTMax = DefaultDTMax
	}
	if cfg.NPred == 0 {
		cfg.NPred = DefaultNPred
	}
}

// Validate fails fast on any configuration a Calculator cannot run with.
func (cfg Config) Validate() error {
	if !(cfg.Alpha > 0) {
		return fmt.Errorf("etc: alpha must be > 0, got %v", cfg.Alpha)
	}
	if cfg.DAlpha < 0 {
		return fmt.Errorf("etc: dalpha must be >= 0, got %v", cfg.DAlpha)
	}
	if !(cfg.Beta > 0) {
		return fmt.Errorf("etc: beta must be > 0, got %v", cfg.Beta)
	}
	if cfg.DBeta < 0 {
		return fmt.Errorf("etc: dbeta must be >= 0, got %v", cfg.DBeta)
	}
	if err := cfg.Signal.Validate(); err != nil {
		return fmt.Errorf("etc: signal prior: %w", err)
	}
	if err := cfg.Background.Validate(); err != nil {
		return fmt.Errorf("etc: background prior: %w", err)
	}
	if !(cfg.SNRGoal > 0) {
		return fmt.Errorf("etc: snr goal must be > 0, got %v", cfg.SNRGoal)
	}
	if !(cfg.DTMax > 0) {
		return fmt.Errorf("etc: dtmax must be > 0, got %v", cfg.DTMax)
	}
	if cfg.NPred < 2 {
		return fmt.Errorf("etc: npred must be >= 2, got %d", cfg.NPred)
	}
	return nil
}

// channel is one rate channel: its append-only observation log and the
// model currently fitted to the complete log.
type channel struct {
	dt, rate, sigma []float64
	model           *ratemodel.Model
}

func (ch *channel) refit(prior ratemodel.Prior) error {
	m, err := ratemodel.Fit(ch.dt, ch.rate, ch.sigma, prior)
	if err != nil {
		return err
	}
	ch.model = m
	return nil
}

// Calculator forecasts the SNR evolution of a single exposure.
type Calculator struct {
	cfg    Config
	dtPred []float64

	signal     channel
	background channel

	snr   []float64 // nominal cumulative SNR on dtPred
	tGoal float64   // elapsed time of the goal crossing, clamped to the grid

	rng *rand.Rand
}

// New constructs a Calculator for one exposure, fits both rate models
// against their priors with empty observation logs, and computes the
// initial forecast.
func New(cfg Config) (*Calculator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Calculator{
		cfg:    cfg,
		dtPred: make([]float64, cfg.NPred),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	}
	step := cfg.DTMax / float64(cfg.NPred-1)
	for i := range c.dtPred {
		c.dtPred[i] = float64(i) * step
	}
	c.dtPred[cfg.NPred-1] = cfg.DTMax // exact endpoint, no rounding drift

	if err := c.signal.refit(cfg.Signal); err != nil {
		return nil, err
	}
	if err := c.background.refit(cfg.Background); err != nil {
		return nil, err
	}
	if err := c.recomputeForecast(); err != nil {
		return nil, err
	}
	return c, nil
}

// Config returns the configuration the Calculator was built with, after
// defaulting.
func (c *Calculator) Config() Config { return c.cfg }

// Grid returns a copy of the fixed prediction grid of elapsed times.
func (c *Calculator) Grid() []float64 {
	return append([]float64(nil), c.dtPred...)
}

// SNRCurve returns a copy of the nominal cumulative SNR forecast on the
// prediction grid.
func (c *Calculator) SNRCurve() []float64 {
	return append([]float64(nil), c.snr...)
}

// GoalCrossing returns the forecast elapsed time at which the SNR goal is
// first reached, clamped to the final grid time when the goal is out of
// reach.
func (c *Calculator) GoalCrossing() float64 { return c.tGoal }

// UpdateSignal registers a new raw signal rate estimate with its 1-sigma
// error, refits the signal model over the complete observation log, and
// recomputes the forecast. Updates may arrive in any relative time order.
func (c *Calculator) UpdateSignal(t, rate, sigma float64) error {
	return c.update(&c.signal, c.cfg.Signal, "signal", t, rate, sigma)
}

// UpdateBackground registers a new raw background rate estimate. See
// UpdateSignal.
func (c *Calculator) UpdateBackground(t, rate, sigma float64) error {
	return c.update(&c.background, c.cfg.Background, "background", t, rate, sigma)
}

func (c *Calculator) update(ch *channel, prior ratemodel.Prior, name string, t, rate, sigma float64) error {
	if t < c.cfg.T0 {
		return fmt.Errorf("etc: %s update at t=%v precedes exposure start t0=%v", name, t, c.cfg.T0)
	}
	if !(rate > 0) {
		return fmt.Errorf("etc: %s rate must be > 0, got %v", name, rate)
	}
	if !(sigma > 0) {
		return fmt.Errorf("etc: %s rate error must be > 0, got %v", name, sigma)
	}

	ch.dt = append(ch.dt, t-c.cfg.T0)
	ch.rate = append(ch.rate, rate)
	ch.sigma = append(ch.sigma, sigma)
	if err := ch.refit(prior); err != nil {
		return fmt.Errorf("etc: refitting %s model: %w", name, err)
	}
	return c.recomputeForecast()
}

// PredictRates evaluates the calibrated signal and background rate
// forecasts with 1-sigma uncertainties on the prediction grid. Calibration
// errors are folded in quadrature with the model uncertainties.
func (c *Calculator) PredictRates() (sig, dsig, bg, dbg []float64) {
	sig, dsig = calibrate(c.signal.model, c.dtPred, c.cfg.Alpha, c.cfg.DAlpha)
	bg, dbg = calibrate(c.background.model, c.dtPred, c.cfg.Beta, c.cfg.DBeta)
	return sig, dsig, bg, dbg
}

func calibrate(m *ratemodel.Model, grid []float64, factor, dfactor float64) (rate, drate []float64) {
	mean, sigma := m.Predict(grid)
	rate = make([]float64, len(grid))
	drate = make([]float64, len(grid))
	for i := range grid {
		rate[i] = factor * mean[i]
		drate[i] = math.Hypot(factor*sigma[i], dfactor*mean[i])
	}
	return rate, drate
}

// recomputeForecast rebuilds the nominal SNR curve and the goal-crossing
// time from the current fits. The curve must come out non-decreasing; that
// is asserted here rather than trusted.
func (c *Calculator) recomputeForecast() error {
	sigMean, _ := c.signal.model.Predict(c.dtPred)
	bgMean, _ := c.background.model.Predict(c.dtPred)
	for i := range c.dtPred {
		sigMean[i] *= c.cfg.Alpha
		bgMean[i] *= c.cfg.Beta
	}

	snr := evalSNR(c.dtPred, sigMean, bgMean)
	for i := 1; i < len(snr); i++ {
		if snr[i] < snr[i-1]-1e-9*c.cfg.SNRGoal {
			return fmt.Errorf("%w: drops from %v to %v at grid step %d",
				ErrNonMonotonicSNR, snr[i-1], snr[i], i)
		}
	}

	c.snr = snr
	c.tGoal = goalCrossing(c.dtPred, snr, c.cfg.SNRGoal)
	return nil
}

// WillTimeout reports whether the current forecast says the SNR goal will
// not be reached within the maximum exposure duration.
func (c *Calculator) WillTimeout() bool {
	return c.tGoal == c.dtPred[len(c.dtPred)-1]
}

// Remaining returns the forecast seconds until the SNR goal is reached,
// measured from tNow. The result is negative once the goal time has passed,
// and clamped by the grid horizon when the forecast times out.
func (c *Calculator) Remaining(tNow float64) (float64, error) {
	if tNow < c.cfg.T0 {
		return 0, fmt.Errorf("etc: query at t=%v precedes exposure start t0=%v", tNow, c.cfg.T0)
	}
	return c.tGoal - (tNow - c.cfg.T0), nil
}

// Samples draws n joint calibrated sample paths for the signal and
// background rates over the given elapsed times. Each path gets its own
// calibration factor drawn from N(alpha, dalpha) and N(beta, dbeta); a zero
// calibration error applies the factor deterministically instead of
// degenerating into a zero-width draw.
//
// The returned matrices have one row per sample and one column per time.
func (c *Calculator) Samples(dt []float64, n int) (sig, bg *mat.Dense, err error) {
	sig, err = c.signal.model.Sample(dt, n, c.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("etc: sampling signal paths: %w", err)
	}
	bg, err = c.background.model.Sample(dt, n, c.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("etc: sampling background paths: %w", err)
	}
	c.applyCalibration(sig, c.cfg.Alpha, c.cfg.DAlpha)
	c.applyCalibration(bg, c.cfg.Beta, c.cfg.DBeta)
	return sig, bg, nil
}

func (c *Calculator) applyCalibration(paths *mat.Dense, factor, dfactor float64) {
	rows, cols := paths.Dims()
	for r := 0; r < rows; r++ {
		f := factor
		if dfactor > 0 {
			f += dfactor * c.rng.NormFloat64()
		}
		for j := 0; j < cols; j++ {
			paths.Set(r, j, f*paths.At(r, j))
		}
	}
}

// SNRNow estimates the currently achieved SNR at tNow as a central
// confidence interval over nsamples Monte-Carlo realizations of both rate
// channels, integrated on the prediction grid truncated to end exactly at
// tNow.
//
// The cost is O(nsamples × grid points); everything else about the
// Calculator is deterministic given the observation log, so SNRNow is
// safely callable at any query cadence.
func (c *Calculator) SNRNow(tNow, confidence float64, nsamples int) (lo, hi float64, err error) {
	if tNow < c.cfg.T0 || tNow > c.cfg.T0+c.cfg.DTMax {
		return 0, 0, fmt.Errorf("etc: query time %v outside exposure window [%v, %v]",
			tNow, c.cfg.T0, c.cfg.T0+c.cfg.DTMax)
	}
	if !(confidence > 0 && confidence < 1) {
		return 0, 0, fmt.Errorf("etc: confidence level must be in (0,1), got %v", confidence)
	}
	if nsamples <= 0 {
		return 0, 0, fmt.Errorf("etc: sample count must be > 0, got %d", nsamples)
	}

	dtNow := tNow - c.cfg.T0
	grid := make([]float64, 0, len(c.dtPred)+1)
	for _, dt := range c.dtPred {
		if dt < dtNow {
			grid = append(grid, dt)
		}
	}
	grid = append(grid, dtNow)
	if len(grid) == 1 {
		// Shutter just opened, nothing integrated yet.
		return 0, 0, nil
	}

	sig, bg, err := c.Samples(grid, nsamples)
	if err != nil {
		return 0, 0, err
	}

	final := make([]float64, nsamples)
	for s := 0; s < nsamples; s++ {
		snr := evalSNR(grid, mat.Row(nil, s, sig), mat.Row(nil, s, bg))
		final[s] = snr[len(snr)-1]
	}
	sort.Float64s(final)

	lo = stat.Quantile((1-confidence)/2, stat.Empirical, final, nil)
	hi = stat.Quantile((1+confidence)/2, stat.Empirical, final, nil)
	return lo, hi, nil
}
