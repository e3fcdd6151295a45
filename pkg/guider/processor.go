// Package guider turns raw guider packets into the (timestamp, rate, error)
// update triples the exposure-time calculator consumes.
//
// A packet is a JSON document published by the guider pipeline once per
// guide cycle. Fields are extracted with gjson paths, so the processor is
// tolerant of extra payload the pipeline attaches, and converted into
// dimensionless signal/background rates via pkg/calib.
package guider

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/snrcast/pkg/calib"
)

// gjson paths into a guider packet.
const (
	pathTimestamp  = "timestamp"
	pathSeeing     = "guider.seeing_fwhm"
	pathGuiderFlux = "guider.flux"
	pathGuiderErr  = "guider.flux_err"
	pathSkyFlux    = "sky.flux"
	pathSkyErr     = "sky.flux_err"
)

// Update is one rate estimate ready for the calculator.
type Update struct {
	// T is the packet timestamp in seconds (same origin as the exposure
	// start time).
	T float64

	// Rate is the uncalibrated, dimensionless rate estimate.
	Rate float64

	// Sigma is the 1-sigma error on Rate.
	Sigma float64
}

// PackProcessor converts guider packets into signal and background rate
// updates. It owns the per-exposure calibration state (the adaptive flux
// baselines), so one processor serves one exposure unless Reset between.
type PackProcessor struct {
	signal     *calib.SignalCalib
	background *calib.BackgroundCalib
}

// NewPackProcessor returns a processor with the default fiducial
// calibrations.
func NewPackProcessor() *PackProcessor {
	return NewPackProcessorWith(calib.NewSignalCalib(), calib.NewBackgroundCalib())
}

// NewPackProcessorWith injects specific calibrations, for hosts that refine
// the calibration constants between exposures. Nil arguments select the
// defaults.
func NewPackProcessorWith(sc *calib.SignalCalib, bc *calib.BackgroundCalib) *PackProcessor {
	if sc == nil {
		sc = calib.NewSignalCalib()
	}
	if bc == nil {
		bc = calib.NewBackgroundCalib()
	}
	return &PackProcessor{signal: sc, background: bc}
}

// Process extracts one packet and returns the signal and background updates
// it implies. The updates are not validated against exposure bounds; that
// is the caller's job before submitting them to the calculator.
func (p *PackProcessor) Process(raw []byte) (sig, bg Update, err error) {
	if !gjson.ValidBytes(raw) {
		return Update{}, Update{}, fmt.Errorf("guider: packet is not valid JSON")
	}

	fields := make(map[string]float64, 6)
	for _, path := range []string{pathTimestamp, pathSeeing, pathGuiderFlux, pathGuiderErr, pathSkyFlux, pathSkyErr} {
		v := gjson.GetBytes(raw, path)
		if !v.Exists() {
			return Update{}, Update{}, fmt.Errorf("guider: packet missing %q", path)
		}
		fields[path] = v.Float()
	}

	sigRate, sigErr, err := p.signal.Rate(fields[pathSeeing], 0, fields[pathGuiderFlux], fields[pathGuiderErr])
	if err != nil {
		return Update{}, Update{}, fmt.Errorf("guider: signal rate: %w", err)
	}
	bgRate, bgErr, err := p.background.Rate(fields[pathSkyFlux], fields[pathSkyErr])
	if err != nil {
		return Update{}, Update{}, fmt.Errorf("guider: background rate: %w", err)
	}

	t := fields[pathTimestamp]
	return Update{T: t, Rate: sigRate, Sigma: sigErr},
		Update{T: t, Rate: bgRate, Sigma: bgErr}, nil
}

// Reset clears the adaptive baselines for a new exposure.
func (p *PackProcessor) Reset() {
	p.signal.Reset()
	p.background.Reset()
}
