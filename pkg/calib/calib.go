// Package calib converts instrument-specific guider measurements into
// dimensionless rates near 1.0, with first-order error propagation, and
// derives the multiplicative calibration constants (alpha, beta) that scale
// those rates into Poisson-countable units.
//
// Both calibrators detrend short-timescale flux fluctuations against a
// running baseline tracked by a SampleHold: the first few samples pass
// through unchanged while the baseline fills, after which the held mean is
// used for the rest of the exposure.
package calib

import (
	"errors"
	"fmt"
	"math"
)

// ErrBaselineNotPositive is returned when a flux-ratio correction would
// divide by a non-positive held baseline. This indicates corrupt upstream
// data and is never silently absorbed.
var ErrBaselineNotPositive = errors.New("calib: held baseline flux must be > 0")

// holdState tracks which phase a SampleHold is in.
type holdState int

const (
	// stateFilling means fewer than the threshold number of samples have
	// been seen; Add passes values through unchanged.
	stateFilling holdState = iota

	// stateHeld means the baseline has been computed and cached; Add
	// ignores its argument and returns the held value.
	stateHeld
)

// DefaultHoldSamples is the number of samples a SampleHold accumulates
// before freezing its baseline.
const DefaultHoldSamples = 5

// SampleHold is an adaptive baseline filter with two explicit states.
//
// While Filling, each Add stores its value and returns it unchanged. The
// call that brings the stored count up to the threshold computes the
// arithmetic mean of everything seen so far, caches it, and transitions to
// Held; from then on Add ignores its argument and returns the cached mean.
// Reset discards all state and returns to Filling, for reuse across
// exposures.
type SampleHold struct {
	threshold int
	samples   []float64
	state     holdState
	hold      float64
}

// NewSampleHold returns a SampleHold that freezes its baseline after
// threshold samples. A threshold <= 0 uses DefaultHoldSamples.
func NewSampleHold(threshold int) *SampleHold {
	if threshold <= 0 {
		threshold = DefaultHoldSamples
	}
	return &SampleHold{
		threshold: threshold,
		samples:   make([]float64, 0, threshold),
	}
}

// Add feeds one sample through the filter and returns the current baseline:
// the sample itself while filling, the held mean afterwards.
func (sh *SampleHold) Add(value float64) float64 {
	if sh.state == stateHeld {
		return sh.hold
	}
	sh.samples = append(sh.samples, value)
	if len(sh.samples) == sh.threshold {
		sum := 0.0
		for _, v := range sh.samples {
			sum += v
		}
		sh.hold = sum / float64(sh.threshold)
		sh.state = stateHeld
	}
	return value
}

// Held reports whether the baseline has been frozen.
func (sh *SampleHold) Held() bool { return sh.state == stateHeld }

// Reset clears the filling buffer, discards any held baseline, and returns
// to the Filling state.
func (sh *SampleHold) Reset() {
	sh.samples = sh.samples[:0]
	sh.state = stateFilling
	sh.hold = 0
}

// SignalCalib models the seeing- and flux-dependent efficiency of the
// signal channel.
type SignalCalib struct {
	// A, B, C are the coefficients of the quadratic seeing response
	// f(s) = A + B·s + C·s² with s the seeing FWHM in arcseconds.
	A, B, C float64

	// RGFA scales the guider flux-ratio correction.
	RGFA float64

	// AirmassExponent is the power-law index of the airmass attenuation.
	AirmassExponent float64

	// DustCoef converts E(B−V) reddening into extinction magnitudes.
	DustCoef float64

	// Alpha0 is the fiducial signal calibration at unit airmass and zero
	// reddening.
	Alpha0 float64

	flux *SampleHold
}

// NewSignalCalib returns a signal calibration with the fiducial guider
// constants.
func NewSignalCalib() *SignalCalib {
	return &SignalCalib{
		A:               2.04760,
		B:               -1.18590,
		C:               0.21231,
		RGFA:            1.0,
		AirmassExponent: -1.25,
		DustCoef:        3.303,
		Alpha0:          6.9,
		flux:            NewSampleHold(DefaultHoldSamples),
	}
}

// Rate converts a seeing FWHM and guider flux measurement into an
// uncalibrated, dimensionless signal rate near 1.0. Input 1-sigma errors are
// propagated to first order and combined in quadrature.
//
// The flux-ratio factor divides by the running baseline flux; a non-positive
// baseline returns ErrBaselineNotPositive.
func (c *SignalCalib) Rate(seeingFWHM, dseeing, flux, dflux float64) (rate, drate float64, err error) {
	flux0 := c.flux.Add(flux)
	if !(flux0 > 0) {
		return 0, 0, fmt.Errorf("%w: got %v", ErrBaselineNotPositive, flux0)
	}

	fSeeing := c.A + c.B*seeingFWHM + c.C*seeingFWHM*seeingFWHM
	fFlux := 1 + c.RGFA*(flux-flux0)/flux0

	rate = fSeeing * fFlux

	// First-order propagation: ∂r/∂s = (B + 2·C·s)·f_flux and
	// ∂r/∂flux = f_seeing·RGFA/flux0.
	dds := (c.B + 2*c.C*seeingFWHM) * fFlux
	ddf := fSeeing * c.RGFA / flux0
	drate = math.Hypot(dds*dseeing, ddf*dflux)
	return rate, drate, nil
}

// Alpha returns the signal calibration constant and its 1-sigma error for
// the given airmass and E(B−V) reddening, using a power-law airmass
// attenuation and an exponential dust extinction with a fixed 10% fractional
// error.
func (c *SignalCalib) Alpha(airmass, ebv float64) (alpha, dalpha float64, err error) {
	if !(airmass >= 1) {
		return 0, 0, fmt.Errorf("calib: airmass must be >= 1, got %v", airmass)
	}
	if ebv < 0 {
		return 0, 0, fmt.Errorf("calib: E(B-V) must be >= 0, got %v", ebv)
	}
	alpha = c.Alpha0 *
		math.Pow(airmass, c.AirmassExponent) *
		math.Pow(10, -2*c.DustCoef*ebv/2.5)
	return alpha, 0.1 * alpha, nil
}

// Reset clears the adaptive flux baseline for reuse on a new exposure.
func (c *SignalCalib) Reset() { c.flux.Reset() }

// BackgroundCalib models the sky-level dependence of the background
// channel.
type BackgroundCalib struct {
	// RSC scales the sky flux-ratio correction.
	RSC float64

	// Beta0 is the fiducial background calibration.
	Beta0 float64

	flux *SampleHold
}

// NewBackgroundCalib returns a background calibration with the fiducial sky
// constants.
func NewBackgroundCalib() *BackgroundCalib {
	return &BackgroundCalib{
		RSC:   1.5,
		Beta0: 2400,
		flux:  NewSampleHold(DefaultHoldSamples),
	}
}

// Rate converts a sky flux measurement into an uncalibrated, dimensionless
// background rate near 1.0, propagating the input error to first order. A
// non-positive held baseline returns ErrBaselineNotPositive.
func (c *BackgroundCalib) Rate(flux, dflux float64) (rate, drate float64, err error) {
	flux0 := c.flux.Add(flux)
	if !(flux0 > 0) {
		return 0, 0, fmt.Errorf("%w: got %v", ErrBaselineNotPositive, flux0)
	}
	rate = 1 + c.RSC*(flux-flux0)/flux0
	drate = c.RSC / flux0 * dflux
	return rate, drate, nil
}

// Beta returns the background calibration constant with a fixed 10%
// fractional error.
//
// TODO: fold the moon brightness factor into Beta0 once the sky model
// exposes it.
func (c *BackgroundCalib) Beta() (beta, dbeta float64) {
	return c.Beta0, 0.1 * c.Beta0
}

// Reset clears the adaptive sky baseline for reuse on a new exposure.
func (c *BackgroundCalib) Reset() { c.flux.Reset() }
