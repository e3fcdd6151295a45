package storage

import (
	"context"
	"time"
)

// Snapshot is one published forecast for an exposure: everything a consumer
// (GUI, observing scripts, the HTTP API) needs to display progress without
// touching the calculator.
type Snapshot struct {
	// Exposure identifies the exposure this forecast belongs to.
	Exposure string `json:"exposure"`

	// GeneratedAt is the wall-clock time the snapshot was produced.
	GeneratedAt time.Time `json:"generated_at"`

	// Elapsed is the exposure time in seconds at which the snapshot was
	// evaluated.
	Elapsed float64 `json:"elapsed"`

	// SNRGoal is the target signal-to-noise ratio for the exposure.
	SNRGoal float64 `json:"snr_goal"`

	// SNRLo and SNRHi bound the currently achieved SNR at the snapshot's
	// confidence level.
	SNRLo      float64 `json:"snr_lo"`
	SNRHi      float64 `json:"snr_hi"`
	Confidence float64 `json:"confidence"`

	// RemainingSec is the forecast seconds until the goal is reached;
	// negative once the goal time has passed.
	RemainingSec float64 `json:"remaining_sec"`

	// WillTimeout reports whether the forecast says the goal will not be
	// reached within the maximum exposure duration.
	WillTimeout bool `json:"will_timeout"`

	// GoalCrossingSec is the forecast elapsed time of the goal crossing,
	// clamped to the horizon on timeout.
	GoalCrossingSec float64 `json:"goal_crossing_sec"`

	// Grid and Curve carry the nominal cumulative SNR forecast on the
	// prediction grid, for consumers that plot the full trajectory.
	// Optional.
	Grid  []float64 `json:"grid,omitempty"`
	Curve []float64 `json:"curve,omitempty"`
}

// Store publishes forecast snapshots for consumers to poll.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, exposure string) (Snapshot, bool, error)
}
