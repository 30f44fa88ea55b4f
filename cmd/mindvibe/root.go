package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hisr2024/mindvibe/internal/api"
	"github.com/hisr2024/mindvibe/internal/backup"
	"github.com/hisr2024/mindvibe/internal/cache"
	"github.com/hisr2024/mindvibe/internal/config"
	"github.com/hisr2024/mindvibe/internal/store"
	"github.com/hisr2024/mindvibe/internal/syncer"
	"github.com/hisr2024/mindvibe/internal/transport"
	"github.com/hisr2024/mindvibe/internal/types"
	"github.com/hisr2024/mindvibe/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mindvibe",
	Short: "MindVibe - Offline-First Sync Engine",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Establish device identity (generated on first run, stable after)
	deviceID, err := store.EnsureDeviceID(ctx, db)
	if err != nil {
		return err
	}
	slog.Info("device identity ready", "device_id", deviceID)

	// 6. Initialize backend transport and sync service
	client := transport.New(cfg.Backend.BaseURL, cfg.Backend.APIKey, deviceID,
		time.Duration(cfg.Backend.Timeout), logger)
	service := syncer.New(db, client, cfg.Sync, logger)
	slog.Info("sync service initialized", "backend", cfg.Backend.BaseURL)

	// 7. Initialize prompt cache (persisted across restarts)
	prompts := cache.New[types.ConflictPrompt](
		cfg.Cache.Capacity,
		time.Duration(cfg.Cache.TTL),
		cache.WithPersister[types.ConflictPrompt](cache.NewStorePersister(db, "prompts")),
	)

	// 8. Initialize HTTP router
	handler := api.NewHandler(service, db, prompts, deviceID, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Start background workers
	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}
	syncWorker := worker.NewSyncWorker(service, time.Duration(cfg.Sync.Interval))
	backupWorker := worker.NewBackupWorker(uploader, db, cfg.Database.Path,
		deviceID, time.Duration(cfg.Backup.Interval))

	var wg sync.WaitGroup
	startWorker(ctx, &wg, syncWorker.Run)
	startWorker(ctx, &wg, backupWorker.Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown. Workers log their own
// lifecycle, so the helper only handles accounting.
func startWorker(ctx context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
