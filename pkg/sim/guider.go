package sim

import (
	"encoding/json"
	"math/rand/v2"
)

// GuiderOptions shapes the synthetic guider packet stream.
type GuiderOptions struct {
	// Cadence is the seconds between packets.
	Cadence float64

	// Seeing is the mean seeing FWHM in arcseconds; SeeingJitter its RMS.
	Seeing, SeeingJitter float64

	// GuiderFlux is the mean guider flux; FluxDrift its change per second
	// and FluxJitter the fractional RMS noise.
	GuiderFlux, FluxDrift, FluxJitter float64

	// SkyFlux is the mean sky flux; SkyDrift its change per second and
	// SkyJitter the fractional RMS noise.
	SkyFlux, SkyDrift, SkyJitter float64
}

// DefaultGuiderOptions returns a calm-night packet stream: steady seeing
// around 1.1", flat guider flux, slowly brightening sky.
func DefaultGuiderOptions() GuiderOptions {
	return GuiderOptions{
		Cadence:      60,
		Seeing:       1.1,
		SeeingJitter: 0.05,
		GuiderFlux:   0.5,
		FluxJitter:   0.04,
		SkyFlux:      0.5,
		SkyDrift:     1e-5,
		SkyJitter:    0.04,
	}
}

// packet is the wire shape of one mock guider packet. It mirrors what the
// guider pipeline publishes, so pkg/guider parses mock and real packets the
// same way.
type packet struct {
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

// GuiderStream emits synthetic guider packets on a fixed cadence. It is the
// mock stand-in for the guider-image processing pipeline: each packet
// carries a timestamp, a seeing estimate, and guider/sky flux measurements
// with their errors.
type GuiderStream struct {
	opts GuiderOptions
	t0   float64
	next float64
	rng  *rand.Rand
}

// NewGuiderStream creates a stream whose first packet is one cadence after
// t0.
func NewGuiderStream(t0 float64, opts GuiderOptions, rng *rand.Rand) *GuiderStream {
	if opts.Cadence <= 0 {
		opts.Cadence = DefaultGuiderOptions().Cadence
	}
	return &GuiderStream{opts: opts, t0: t0, next: t0 + opts.Cadence, rng: rng}
}

// NextAt reports the timestamp of the next packet.
func (g *GuiderStream) NextAt() float64 { return g.next }

// Next produces the next packet as JSON bytes and advances the stream.
func (g *GuiderStream) Next() ([]byte, error) {
	elapsed := g.next - g.t0

	var p packet
	p.Timestamp = g.next
	p.Guider.SeeingFWHM = g.opts.Seeing + g.opts.SeeingJitter*g.rng.NormFloat64()

	guiderMean := g.opts.GuiderFlux + g.opts.FluxDrift*elapsed
	p.Guider.FluxErr = g.opts.FluxJitter * guiderMean
	p.Guider.Flux = guiderMean + p.Guider.FluxErr*g.rng.NormFloat64()

	skyMean := g.opts.SkyFlux + g.opts.SkyDrift*elapsed
	p.Sky.FluxErr = g.opts.SkyJitter * skyMean
	p.Sky.Flux = skyMean + p.Sky.FluxErr*g.rng.NormFloat64()

	g.next += g.opts.Cadence
	return json.Marshal(p)
}
