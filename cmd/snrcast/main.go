// Command snrcast implements the exposure-time forecast daemon.
//
// The daemon runs a continuous exposure loop that:
//  1. Consumes guider packets (timestamp, seeing, guider/sky fluxes)
//  2. Converts them into calibrated signal and background rate updates
//  3. Refits the correlated-noise rate models and the SNR forecast
//  4. Stores forecast snapshots for the observing GUI to consume
//  5. Exposes snapshots via HTTP API at /exposure/current
//
// The daemon serves an HTTP API on port 8082 (configurable) providing:
//   - GET /exposure/current?exposure=<id> - Retrieve latest forecast snapshot
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	snrcast \
//	  -exposure=exp-004512 \
//	  -snr-goal=10 \
//	  -cutoff=5000 \
//	  -airmass=1.2 -ebv=0.05 \
//	  -confidence=p68.27
//
// Environment variables:
//
//	EXPOSURE   - Exposure identifier (required)
//	SNR_GOAL   - Target signal-to-noise ratio (default: 10)
//	CUTOFF     - Maximum exposure duration in seconds (default: 5000)
//	AIRMASS    - Airmass of the observation (default: 1.0)
//	EBV        - E(B-V) dust extinction (default: 0)
//	CONFIDENCE - Confidence level for SNR intervals (default: p68.27)
//	SAMPLES    - Monte Carlo samples per interval (default: 1000)
//	INTERVAL   - Guider polling interval (default: 1s)
//	STORAGE    - Storage backend: memory or redis (default: memory)
//	LOG_LEVEL  - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/snrcast/cmd/snrcast/config"
	"github.com/HatiCode/snrcast/cmd/snrcast/logger"
	"github.com/HatiCode/snrcast/cmd/snrcast/metrics"
	"github.com/HatiCode/snrcast/cmd/snrcast/router"
	"github.com/HatiCode/snrcast/pkg/calib"
	"github.com/HatiCode/snrcast/pkg/etc"
	"github.com/HatiCode/snrcast/pkg/guider"
	"github.com/HatiCode/snrcast/pkg/httpx"
	"github.com/HatiCode/snrcast/pkg/ratemodel"
	"github.com/HatiCode/snrcast/pkg/sim"
	"github.com/HatiCode/snrcast/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("starting snrcast",
		"version", version,
		"exposure", cfg.Exposure,
		"snr_goal", cfg.SNRGoal,
	)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	signalCalib := calib.NewSignalCalib()
	alpha, dalpha, err := signalCalib.Alpha(cfg.Airmass, cfg.EBV)
	if err != nil {
		log.Error("signal calibration failed", "error", err)
		os.Exit(1)
	}
	beta, dbeta := calib.NewBackgroundCalib().Beta()

	t0 := 0.0
	calc, err := etc.New(etc.Config{
		Alpha:      alpha,
		DAlpha:     dalpha,
		Beta:       beta,
		DBeta:      dbeta,
		Signal:     ratemodel.Prior{Rate: 1.0, Sigma: 0.5, Tcorr: 2000},
		Background: ratemodel.Prior{Rate: 1.0, Sigma: 0.5, Tcorr: 2000},
		T0:         t0,
		SNRGoal:    cfg.SNRGoal,
		DTMax:      cfg.CutoffSec,
		NPred:      cfg.GridPoints,
		Seed:       seed,
	})
	if err != nil {
		log.Error("calculator construction failed", "error", err)
		os.Exit(1)
	}

	confidence, err := config.ParseConfidenceLevel(cfg.ConfidenceLevel)
	if err != nil {
		log.Error("invalid confidence level", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			log.Error("redis store construction failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rs.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
		store = rs
	default:
		store = storage.NewMemoryStore()
	}

	source := sim.NewGuiderStream(t0, sim.DefaultGuiderOptions(), rand.New(rand.NewPCG(seed, seed)))

	exposure := NewExposure(
		cfg.Exposure,
		source,
		guider.NewPackProcessor(),
		calc,
		store,
		confidence,
		cfg.Samples,
		log,
		metrics.New(cfg.Exposure),
	)

	staleAfter := 2 * cfg.Interval // Snapshot is stale if older than 2x the interval
	mux := router.SetupRoutes(store, staleAfter, log)
	httpServer := httpx.NewServer(cfg.Listen, mux, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := exposure.Run(ctx, cfg.Interval); err != nil && err != context.Canceled {
			log.Error("exposure loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
