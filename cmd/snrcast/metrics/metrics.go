// Package metrics provides Prometheus instrumentation for the snrcast
// daemon.
//
// It exposes operational metrics about the exposure loop, including the
// duration of packet processing and forecast recomputation, the current
// forecast state, and error tracking. All metrics are served on the
// /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - snrcast_packet_process_seconds: Histogram of guider packet processing duration
//   - snrcast_forecast_seconds: Histogram of forecast recomputation duration
//   - snrcast_snapshot_age_seconds: Gauge of current snapshot age
//   - snrcast_snr_interval_low / snrcast_snr_interval_high: Gauges of the current SNR interval
//   - snrcast_remaining_seconds: Gauge of forecast remaining exposure time
//   - snrcast_will_timeout: Gauge, 1 when the goal is not reached before cutoff
//   - snrcast_errors_total: Counter of errors by component and reason
//
// All metrics include the exposure label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the exposure loop.
type Metrics struct {
	PacketProcessSeconds prometheus.Histogram
	ForecastSeconds      prometheus.Histogram
	SnapshotAgeSeconds   prometheus.Gauge
	SNRIntervalLow       prometheus.Gauge
	SNRIntervalHigh      prometheus.Gauge
	RemainingSeconds     prometheus.Gauge
	WillTimeout          prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(exposure string) *Metrics {
	labels := prometheus.Labels{"exposure": exposure}

	return &Metrics{
		PacketProcessSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "snrcast_packet_process_seconds",
			Help:        "Time spent turning a guider packet into rate updates",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		ForecastSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "snrcast_forecast_seconds",
			Help:        "Time spent recomputing the SNR forecast",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		SnapshotAgeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "snrcast_snapshot_age_seconds",
			Help:        "Age of the current forecast snapshot in seconds",
			ConstLabels: labels,
		}),

		SNRIntervalLow: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "snrcast_snr_interval_low",
			Help:        "Lower bound of the current SNR confidence interval",
			ConstLabels: labels,
		}),

		SNRIntervalHigh: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "snrcast_snr_interval_high",
			Help:        "Upper bound of the current SNR confidence interval",
			ConstLabels: labels,
		}),

		RemainingSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "snrcast_remaining_seconds",
			Help:        "Forecast remaining exposure time in seconds",
			ConstLabels: labels,
		}),

		WillTimeout: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "snrcast_will_timeout",
			Help:        "1 when the forecast says the goal is not reached before cutoff",
			ConstLabels: labels,
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "snrcast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordProcess records the time spent processing a guider packet.
func (m *Metrics) RecordProcess(seconds float64) {
	m.PacketProcessSeconds.Observe(seconds)
}

// RecordForecast records the time spent recomputing the forecast.
func (m *Metrics) RecordForecast(seconds float64) {
	m.ForecastSeconds.Observe(seconds)
}

// SetSnapshotAge sets the current snapshot age.
func (m *Metrics) SetSnapshotAge(seconds float64) {
	m.SnapshotAgeSeconds.Set(seconds)
}

// SetInterval sets the current SNR confidence interval bounds.
func (m *Metrics) SetInterval(lo, hi float64) {
	m.SNRIntervalLow.Set(lo)
	m.SNRIntervalHigh.Set(hi)
}

// SetRemaining sets the forecast remaining exposure time.
func (m *Metrics) SetRemaining(seconds float64) {
	m.RemainingSeconds.Set(seconds)
}

// SetWillTimeout sets the timeout flag gauge.
func (m *Metrics) SetWillTimeout(willTimeout bool) {
	if willTimeout {
		m.WillTimeout.Set(1)
	} else {
		m.WillTimeout.Set(0)
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
