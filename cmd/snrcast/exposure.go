// Package main implements the exposure loop orchestration.
//
// This file contains the Exposure type which drives the forecast pipeline:
//
//	nextPacket → process → updateCalculator → sampleInterval → storeSnapshot
//
// The Exposure runs continuously via Run(), executing Tick() at regular
// intervals until the exposure passes its cutoff. Each tick consumes one
// guider packet and refreshes the stored snapshot that the observing GUI
// reads via the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/snrcast/cmd/snrcast/metrics"
	"github.com/HatiCode/snrcast/pkg/etc"
	"github.com/HatiCode/snrcast/pkg/guider"
	"github.com/HatiCode/snrcast/pkg/storage"
)

// ErrExposureComplete reports that the guider stream has passed the
// exposure cutoff and the loop has nothing left to do.
var ErrExposureComplete = errors.New("exposure complete")

// PacketSource yields guider packets in timestamp order. The simulated
// stream implements it; a real deployment would adapt the guider pipeline's
// message bus to the same shape.
type PacketSource interface {
	// NextAt reports the timestamp of the next packet in seconds.
	NextAt() float64

	// Next returns the next packet as raw JSON and advances the source.
	Next() ([]byte, error)
}

// Exposure orchestrates the forecast loop for a single exposure:
// consume packets, update the calculator, publish snapshots.
type Exposure struct {
	id         string
	source     PacketSource
	processor  *guider.PackProcessor
	calc       *etc.Calculator
	store      storage.Store
	confidence float64
	samples    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewExposure creates the exposure loop.
func NewExposure(
	id string,
	source PacketSource,
	processor *guider.PackProcessor,
	calc *etc.Calculator,
	store storage.Store,
	confidence float64,
	samples int,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Exposure {
	if logger == nil {
		logger = slog.Default()
	}

	return &Exposure{
		id:         id,
		source:     source,
		processor:  processor,
		calc:       calc,
		store:      store,
		confidence: confidence,
		samples:    samples,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes the exposure loop at regular intervals. Returns nil once the
// exposure completes, or the context error when canceled first.
func (e *Exposure) Run(ctx context.Context, interval time.Duration) error {
	e.logger.Info("starting exposure loop", "exposure", e.id, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("exposure loop stopped")
			return ctx.Err()
		case <-ticker.C:
			err := e.Tick(ctx)
			if errors.Is(err, ErrExposureComplete) {
				e.logger.Info("exposure complete", "exposure", e.id)
				return nil
			}
			if err != nil {
				e.logger.Error("exposure tick failed", "error", err)
			}
		}
	}
}

// Tick consumes one guider packet and refreshes the snapshot.
// Exported for testing purposes.
func (e *Exposure) Tick(ctx context.Context) error {
	cfg := e.calc.Config()

	tNow := e.source.NextAt()
	if tNow > cfg.T0+cfg.DTMax {
		return ErrExposureComplete
	}

	start := time.Now()

	raw, err := e.source.Next()
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("source", "next_failed")
		}
		return fmt.Errorf("next packet: %w", err)
	}

	sig, bg, err := e.processor.Process(raw)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("guider", "process_failed")
		}
		return fmt.Errorf("process packet: %w", err)
	}

	processDuration := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordProcess(processDuration.Seconds())
	}

	forecastStart := time.Now()

	if err := e.calc.UpdateSignal(sig.T, sig.Rate, sig.Sigma); err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("calculator", "signal_update_failed")
		}
		return fmt.Errorf("signal update: %w", err)
	}
	if err := e.calc.UpdateBackground(bg.T, bg.Rate, bg.Sigma); err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("calculator", "background_update_failed")
		}
		return fmt.Errorf("background update: %w", err)
	}

	lo, hi, err := e.calc.SNRNow(tNow, e.confidence, e.samples)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("calculator", "snr_interval_failed")
		}
		return fmt.Errorf("snr interval: %w", err)
	}

	remaining, err := e.calc.Remaining(tNow)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("calculator", "remaining_failed")
		}
		return fmt.Errorf("remaining: %w", err)
	}

	forecastDuration := time.Since(forecastStart)
	if e.metrics != nil {
		e.metrics.RecordForecast(forecastDuration.Seconds())
	}

	if err := e.storeSnapshot(ctx, tNow, lo, hi, remaining); err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("store", "put_failed")
		}
		return fmt.Errorf("store: %w", err)
	}

	if e.metrics != nil {
		e.metrics.SetSnapshotAge(0) // Just generated
		e.metrics.SetInterval(lo, hi)
		e.metrics.SetRemaining(remaining)
		e.metrics.SetWillTimeout(e.calc.WillTimeout())
	}

	e.logger.Info("exposure tick complete",
		"exposure", e.id,
		"elapsed_sec", tNow-cfg.T0,
		"snr_lo", lo,
		"snr_hi", hi,
		"remaining_sec", remaining,
		"will_timeout", e.calc.WillTimeout(),
		"process_ms", processDuration.Milliseconds(),
		"forecast_ms", forecastDuration.Milliseconds(),
	)

	return nil
}

// storeSnapshot persists the current forecast.
func (e *Exposure) storeSnapshot(ctx context.Context, tNow, lo, hi, remaining float64) error {
	cfg := e.calc.Config()

	snapshot := storage.Snapshot{
		Exposure:        e.id,
		GeneratedAt:     time.Now(),
		Elapsed:         tNow - cfg.T0,
		SNRGoal:         cfg.SNRGoal,
		SNRLo:           lo,
		SNRHi:           hi,
		Confidence:      e.confidence,
		RemainingSec:    remaining,
		WillTimeout:     e.calc.WillTimeout(),
		GoalCrossingSec: e.calc.GoalCrossing(),
		Grid:            e.calc.Grid(),
		Curve:           e.calc.SNRCurve(),
	}

	if err := e.store.Put(ctx, snapshot); err != nil {
		return err
	}

	e.logger.Debug("stored snapshot", "exposure", e.id)
	return nil
}
