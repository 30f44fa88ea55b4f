package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hisr2024/mindvibe/internal/backup"
)

const (
	flagPartition = "flags"
	dayFormat     = "2006-01-02"
)

// FlagStore defines the day-flag persistence the backup worker needs.
type FlagStore interface {
	GetKV(ctx context.Context, partition, key string) (string, error)
	PutKV(ctx context.Context, partition, key, value string) error
}

// BackupWorker uploads the database file to backup storage at most once per
// calendar day. The per-day flag lives in the store so a restart does not
// trigger a second upload.
type BackupWorker struct {
	uploader backup.Uploader
	flags    FlagStore
	dbPath   string
	deviceID string
	interval time.Duration

	now func() time.Time
}

// NewBackupWorker creates a worker checking at the given interval whether
// today's backup has been taken yet.
func NewBackupWorker(uploader backup.Uploader, flags FlagStore, dbPath, deviceID string, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		uploader: uploader,
		flags:    flags,
		dbPath:   dbPath,
		deviceID: deviceID,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled. Returns
// immediately when backup storage is not configured.
func (w *BackupWorker) Run(ctx context.Context) {
	if !w.uploader.Configured() {
		slog.Info("backup storage not configured, worker idle",
			"component", "worker",
			"worker", "backup",
		)
		return
	}

	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"interval", w.interval.String(),
	)

	w.runBackup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runBackup(ctx)
		}
	}
}

// runBackup uploads today's backup unless the day flag says it already
// happened. The flag is written only after a successful upload, so a failed
// attempt is retried on the next tick.
func (w *BackupWorker) runBackup(ctx context.Context) {
	day := w.now().UTC().Format(dayFormat)
	flagKey := "backup:" + day

	if _, err := w.flags.GetKV(ctx, flagPartition, flagKey); err == nil {
		return // already taken today
	}

	start := time.Now()
	if err := w.uploader.Upload(ctx, w.deviceID, day, w.dbPath); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("backup failed",
			"component", "worker",
			"action", "backup_failed",
			"day", day,
			"error", err,
		)
		return
	}

	if err := w.flags.PutKV(ctx, flagPartition, flagKey, "done"); err != nil {
		slog.Warn("recording backup flag failed",
			"component", "worker",
			"action", "backup_flag_failed",
			"day", day,
			"error", err,
		)
	}

	slog.Info("backup completed",
		"component", "worker",
		"action", "backup_complete",
		"day", day,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
