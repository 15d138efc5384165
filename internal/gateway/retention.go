package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/settings"
)

// Retention defaults.
const (
	// DefaultRetentionDays applies when no retention is configured.
	DefaultRetentionDays = 30

	// retentionPeriod is the minimum time between two cleanup runs.
	retentionPeriod = 24 * time.Hour

	// retentionCheckInterval is how often the loop checks whether a run is due.
	retentionCheckInterval = time.Hour
)

// ReadingPruner deletes sensor readings older than a cutoff.
type ReadingPruner interface {
	PruneReadings(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPruner deletes device presence events older than a cutoff.
type EventPruner interface {
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention removes old sensor readings and device events once a day.
// The time of the last run is kept in the last_cleanup_date setting so
// restarts do not trigger extra runs.
type Retention struct {
	readings ReadingPruner
	events   EventPruner
	settings Settings
	days     int
	logger   Logger
	now      func() time.Time
}

// NewRetention creates a cleaner keeping days of history. A value below 1
// falls back to DefaultRetentionDays.
func NewRetention(readings ReadingPruner, evts EventPruner, store Settings, days int) *Retention {
	if days < 1 {
		days = DefaultRetentionDays
	}
	return &Retention{
		readings: readings,
		events:   evts,
		settings: store,
		days:     days,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for cleanup runs.
func (r *Retention) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Due reports whether the previous run is at least a day old.
func (r *Retention) Due() bool {
	last, err := time.Parse(time.RFC3339, r.settings.Get(settings.KeyLastCleanupDate))
	if err != nil {
		return true
	}
	return r.now().Sub(last) >= retentionPeriod
}

// RunOnce prunes when a run is due. It reports whether a run happened.
func (r *Retention) RunOnce(ctx context.Context) (bool, error) {
	if !r.Due() {
		return false, nil
	}

	now := r.now()
	cutoff := now.AddDate(0, 0, -r.days)

	readings, err := r.readings.PruneReadings(ctx, cutoff)
	if err != nil {
		return false, fmt.Errorf("pruning sensor readings: %w", err)
	}
	evts, err := r.events.PruneEvents(ctx, cutoff)
	if err != nil {
		return false, fmt.Errorf("pruning device events: %w", err)
	}

	if err := r.settings.Set(ctx, settings.KeyLastCleanupDate, now.UTC().Format(time.RFC3339)); err != nil {
		return true, fmt.Errorf("recording cleanup time: %w", err)
	}

	r.logger.Info("retention cleanup complete",
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"readings_deleted", readings,
		"events_deleted", evts,
	)
	return true, nil
}

// Run checks hourly and prunes when due, until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) error {
	ticker := time.NewTicker(retentionCheckInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("retention cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
