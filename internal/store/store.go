package store

import (
	"context"
	"time"

	"github.com/hisr2024/mindvibe/internal/types"
)

// Store defines the interface contract for all durable engine state:
// the operation queue, conflicts, the behavioral profile, and partitioned
// key-value data (cache persistence, day flags, device identity).
type Store interface {
	SaveOperation(ctx context.Context, op types.SyncOperation) error
	GetOperation(ctx context.Context, id string) (*types.SyncOperation, error)
	ListOperations(ctx context.Context) ([]types.SyncOperation, error)
	FindLiveOperation(ctx context.Context, entityType types.EntityType, entityID string) (*types.SyncOperation, error)
	DeleteOperation(ctx context.Context, id string) error
	PruneSynced(ctx context.Context, olderThan time.Time) (int64, error)

	SaveConflict(ctx context.Context, conflict types.SyncConflict) error
	GetConflict(ctx context.Context, operationID string) (*types.SyncConflict, error)
	ListConflicts(ctx context.Context) ([]types.SyncConflict, error)
	DeleteConflict(ctx context.Context, operationID string) error

	GetProfile(ctx context.Context) (*types.InnerStateProfile, error)
	SaveProfile(ctx context.Context, profile types.InnerStateProfile) error

	GetKV(ctx context.Context, partition, key string) (string, error)
	PutKV(ctx context.Context, partition, key, value string) error
	ListKV(ctx context.Context, partition string) (map[string]string, error)
	DeleteKV(ctx context.Context, partition, key string) error

	Close() error
}
