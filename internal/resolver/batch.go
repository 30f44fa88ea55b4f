package resolver

import "github.com/hisr2024/mindvibe/internal/types"

// ResolvedConflict pairs a conflict with its resolution.
type ResolvedConflict struct {
	Conflict   types.SyncConflict
	Resolution types.ConflictResolution
}

// BatchResult partitions a batch of resolutions by whether they can be
// applied automatically.
type BatchResult struct {
	AutoResolved   []ResolvedConflict
	NeedsUserInput []ResolvedConflict
}

// BatchResolver resolves many conflicts through one registry.
type BatchResolver struct {
	registry *Registry
}

// NewBatchResolver creates a batch resolver over the given registry.
func NewBatchResolver(registry *Registry) *BatchResolver {
	return &BatchResolver{registry: registry}
}

// ResolveAll resolves every conflict and splits the results into
// auto-applied versus requires-user-input.
func (b *BatchResolver) ResolveAll(conflicts []types.SyncConflict) BatchResult {
	var result BatchResult
	for _, conflict := range conflicts {
		resolution := b.registry.Resolve(conflict)
		resolved := ResolvedConflict{Conflict: conflict, Resolution: resolution}
		if resolution.RequiresUserInput {
			result.NeedsUserInput = append(result.NeedsUserInput, resolved)
		} else {
			result.AutoResolved = append(result.AutoResolved, resolved)
		}
	}
	return result
}
