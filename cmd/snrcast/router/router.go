// Package router configures the snrcast daemon's HTTP API.
//
// Routes configured:
//   - GET /exposure/current?exposure=<id> - Retrieve the latest forecast snapshot
//   - GET /exposure/plot?exposure=<id> - Render the forecast SNR curve as PNG
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /exposure/current endpoint returns the snapshot in JSON, including
// the SNR confidence interval, the remaining-time forecast, and the full
// forecast curve. Snapshots older than the stale threshold include an
// X-Snrcast-Stale header so the GUI can grey out the display.
package router

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/snrcast/pkg/httpx"
	"github.com/HatiCode/snrcast/pkg/plotting"
	"github.com/HatiCode/snrcast/pkg/storage"
)

var exposureIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// SetupRoutes configures HTTP endpoints for the snrcast daemon.
func SetupRoutes(store storage.Store, staleAfter time.Duration, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.HandleFunc("/exposure/current", handleGetSnapshot(store, staleAfter, logger))
	mux.HandleFunc("/exposure/plot", handleGetPlot(store, logger))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleGetPlot returns a handler for GET /exposure/plot?exposure=<id>,
// rendering the stored forecast curve as a PNG for the observing GUI.
func handleGetPlot(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exposure := r.URL.Query().Get("exposure")
		if exposure == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "exposure parameter required")
			return
		}

		if !exposureIDRegex.MatchString(exposure) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid exposure id format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, exposure)
		if err != nil {
			logger.Error("failed to get snapshot", "exposure", exposure, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for exposure %q", exposure))
			return
		}

		img, err := plotting.PlotSNR(snapshot.Grid, snapshot.Curve, snapshot.SNRGoal, snapshot.GoalCrossingSec, 800, 600)
		if err != nil {
			logger.Error("failed to render plot", "exposure", exposure, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, img); err != nil {
			logger.Error("failed to encode plot", "error", err)
		}
	}
}

// handleGetSnapshot returns a handler for GET /exposure/current?exposure=<id>.
func handleGetSnapshot(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exposure := r.URL.Query().Get("exposure")
		if exposure == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "exposure parameter required")
			return
		}

		if !exposureIDRegex.MatchString(exposure) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid exposure id format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, exposure)
		if err != nil {
			logger.Error("failed to get snapshot", "exposure", exposure, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for exposure %q", exposure))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set("X-Snrcast-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
