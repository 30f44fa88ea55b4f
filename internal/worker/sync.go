// Package worker contains the engine's background loops: the periodic sync
// pass and the daily database backup. Workers block in Run until their
// context is cancelled; coordination is the caller's job.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// SyncService defines the sync loop operation needed by the sync worker.
type SyncService interface {
	Sync(ctx context.Context) error
}

// SyncWorker periodically runs a sync pass over the operation queue.
type SyncWorker struct {
	service  SyncService
	interval time.Duration
}

// NewSyncWorker creates a worker driving the given service at the interval.
func NewSyncWorker(service SyncService, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		service:  service,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Runs one pass immediately so work queued while offline flushes as soon as
// the engine starts.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync",
		"interval", w.interval.String(),
	)

	w.runPass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

// runPass executes a single sync pass.
func (w *SyncWorker) runPass(ctx context.Context) {
	start := time.Now()

	if err := w.service.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("sync pass failed",
			"component", "worker",
			"action", "sync_failed",
			"error", err,
		)
		return
	}

	slog.Debug("sync pass completed",
		"component", "worker",
		"action", "sync_complete",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
