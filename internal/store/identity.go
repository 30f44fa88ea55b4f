package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	identityPartition = "identity"
	deviceIDKey       = "device_id"
)

// EnsureDeviceID returns this install's stable device ID, generating and
// persisting one on first run. The ID is stamped on outgoing operations so
// the backend can attribute writes per device.
func EnsureDeviceID(ctx context.Context, s Store) (string, error) {
	id, err := s.GetKV(ctx, identityPartition, deviceIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("loading device id: %w", err)
	}

	id = uuid.NewString()
	if err := s.PutKV(ctx, identityPartition, deviceIDKey, id); err != nil {
		return "", fmt.Errorf("persisting device id: %w", err)
	}
	return id, nil
}
