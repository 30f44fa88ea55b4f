package resolver

import "github.com/hisr2024/mindvibe/internal/types"

// LastWriteWins picks whichever side carries the later updated_at timestamp.
// Used for scalar/measurement entities like mood logs, and as the fallback
// for unknown entity types. Clock skew between client and server is
// uncompensated; acceptable at human-scale write contention.
type LastWriteWins struct{}

func (LastWriteWins) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	if localIsNewer(local, server) {
		return types.ConflictResolution{
			Strategy:        types.StrategyLastWriteWins,
			ResolvedData:    conflict.LocalData,
			DiscardedFields: []string{"server"},
			Rationale:       "local edit is newer",
		}
	}
	return types.ConflictResolution{
		Strategy:        types.StrategyLastWriteWins,
		ResolvedData:    conflict.ServerData,
		DiscardedFields: []string{"local"},
		Rationale:       "server edit is newer",
	}
}
