package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hisr2024/mindvibe/internal/backup"
	"github.com/hisr2024/mindvibe/internal/config"
	"github.com/hisr2024/mindvibe/internal/store"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a database backup now",
	Long:  "Upload the local database to the configured S3-compatible bucket without running the server. Requires backup storage to be configured.",
	RunE:  runBackupNow,
}

func runBackupNow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}
	if !uploader.Configured() {
		return backup.ErrNotConfigured
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	deviceID, err := store.EnsureDeviceID(ctx, db)
	if err != nil {
		return err
	}

	day := time.Now().UTC().Format("2006-01-02")
	if err := uploader.Upload(ctx, deviceID, day, cfg.Database.Path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "backup uploaded: %s/backup/%s.db\n", deviceID, day)
	return nil
}
