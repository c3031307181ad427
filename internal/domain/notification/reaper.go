package notification

import (
	"context"
	"log/slog"
	"time"

	"notifgate/internal/common"
)

// ReaperConfig holds configuration for the stale delivery reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale deliveries.
	Interval time.Duration

	// StaleThreshold is how long a delivery can stay in queued/processing
	// before the reaper re-enqueues it.
	StaleThreshold time.Duration

	// BatchSize is the maximum number of deliveries to recover per cycle.
	BatchSize int
}

// Reaper periodically reconciles the delivery table with the queue: the
// store is the source of truth, and deliveries the queue lost (Redis wiped,
// worker crashed, enqueue failed after the send) are enqueued again.
type Reaper struct {
	store    DeliveryStore
	enqueuer Enqueuer
	config   ReaperConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewReaper creates a new stale delivery reaper.
func NewReaper(store DeliveryStore, enqueuer Enqueuer, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Reaper{
		store:    store,
		enqueuer: enqueuer,
		config:   cfg,
		now:      time.Now,
		logger:   common.LoggerOrDiscard(logger).With("component", "reaper"),
	}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one cycle and returns how many deliveries were re-enqueued.
func (r *Reaper) Sweep(ctx context.Context) int {
	olderThan := r.now().Add(-r.config.StaleThreshold)

	stale, err := r.store.ListStaleDeliveries(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		r.logger.Error("failed to list stale deliveries", "error", err)
		return 0
	}

	if len(stale) == 0 {
		return 0
	}

	r.logger.Warn("found stale deliveries", "count", len(stale))

	recovered := 0
	for _, d := range stale {
		// Reset to queued so the worker picks it up cleanly and the row's
		// UpdatedAt moves out of the stale range.
		if err := r.store.UpdateDeliveryStatus(ctx, d.RecordID, StatusQueued, "", ""); err != nil {
			r.logger.Error("failed to reset delivery status", "record_id", d.RecordID, "error", err)
			continue
		}

		if err := r.enqueuer.EnqueueDelivery(d.RecordID); err != nil {
			r.logger.Error("failed to re-enqueue delivery", "record_id", d.RecordID, "error", err)
			continue
		}

		recovered++
		r.logger.Info("recovered stale delivery",
			"record_id", d.RecordID,
			"original_status", d.Status,
			"age", r.now().Sub(d.UpdatedAt).Round(time.Second),
		)
	}

	if recovered > 0 {
		r.logger.Info("sweep complete", "recovered", recovered, "total_stale", len(stale))
	}
	return recovered
}
