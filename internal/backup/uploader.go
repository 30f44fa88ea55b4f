// Package backup provides S3-compatible upload of the engine's database
// file. When backup storage is not configured (empty bucket), the
// NoopUploader is used and all S3 operations are skipped, keeping the
// engine in local-only mode.
package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hisr2024/mindvibe/internal/config"
)

// ErrNotConfigured is returned when backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader uploads database backups.
type Uploader interface {
	// Upload stores the database file under the given device's key for the
	// given day.
	Upload(ctx context.Context, deviceID, day, filePath string) error

	// Configured reports whether uploads actually go anywhere.
	Configured() bool
}

// s3Client defines the minimal minio.Client surface used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// S3Uploader uploads backups to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload stores the database file for one device and day.
func (u *S3Uploader) Upload(ctx context.Context, deviceID, day, filePath string) error {
	if err := u.client.FPutObject(ctx, u.bucket, objectKey(deviceID, day), filePath); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// Configured reports true; an S3Uploader always has a destination.
func (u *S3Uploader) Configured() bool { return true }

// NoopUploader is used when backup storage is not configured.
type NoopUploader struct{}

// Upload is a no-op when backup storage is not configured.
func (u *NoopUploader) Upload(ctx context.Context, deviceID, day, filePath string) error {
	return nil
}

// Configured reports false so callers can skip the day-flag bookkeeping.
func (u *NoopUploader) Configured() bool { return false }

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// objectKey returns the S3 object key for one device's daily backup.
// Convention: {device_id}/backup/{YYYY-MM-DD}.db
func objectKey(deviceID, day string) string {
	return deviceID + "/backup/" + day + ".db"
}
