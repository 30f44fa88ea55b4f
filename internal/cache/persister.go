package cache

import (
	"context"
	"errors"

	"github.com/hisr2024/mindvibe/internal/store"
)

// kvPartition is the store partition holding cache snapshots.
const kvPartition = "cache"

// StorePersister persists a cache snapshot into the durable key-value store,
// one named snapshot per cache.
type StorePersister struct {
	store store.Store
	name  string
}

// NewStorePersister creates a persister writing under the given snapshot name.
func NewStorePersister(s store.Store, name string) *StorePersister {
	return &StorePersister{store: s, name: name}
}

// Load returns the stored snapshot, or nil when none exists yet.
func (p *StorePersister) Load(ctx context.Context) ([]byte, error) {
	value, err := p.store.GetKV(ctx, kvPartition, p.name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// Save writes the snapshot.
func (p *StorePersister) Save(ctx context.Context, data []byte) error {
	return p.store.PutKV(ctx, kvPartition, p.name, string(data))
}
