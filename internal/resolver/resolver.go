// Package resolver turns sync conflicts into resolutions. Dispatch is a
// registry from entity type to a strategy; adding an entity type means
// registering a strategy, not growing a central branch. Every strategy is a
// pure, deterministic function of the conflict data — persistence of the
// result belongs to the caller.
package resolver

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hisr2024/mindvibe/internal/types"
)

// Strategy resolves one conflict for one entity type.
type Strategy interface {
	Resolve(conflict types.SyncConflict) types.ConflictResolution
}

// Registry maps entity types to strategies, with a fallback for unknown
// types. Construct with NewRegistry; the zero value has no fallback.
type Registry struct {
	strategies map[types.EntityType]Strategy
	fallback   Strategy
}

// NewRegistry returns a registry pre-populated with the built-in strategies
// and a last-write-wins fallback for unknown entity types.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[types.EntityType]Strategy),
		fallback:   LastWriteWins{},
	}
	r.Register(types.EntityMoodLog, LastWriteWins{})
	r.Register(types.EntityJournal, JournalStrategy{})
	r.Register(types.EntityJourneyProgress, JourneyProgressStrategy{})
	r.Register(types.EntityPreferences, PreferencesStrategy{})
	r.Register(types.EntityInteractionMetrics, InteractionMetricsStrategy{})
	return r
}

// Register adds or replaces the strategy for an entity type.
func (r *Registry) Register(entityType types.EntityType, s Strategy) {
	r.strategies[entityType] = s
}

// Resolve dispatches the conflict to its entity type's strategy, or the
// fallback when none is registered.
func (r *Registry) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	if s, ok := r.strategies[conflict.EntityType]; ok {
		return s.Resolve(conflict)
	}
	return r.fallback.Resolve(conflict)
}

// decode unmarshals a payload into a generic map. A payload that fails to
// decode yields an empty map, so strategies degrade to their defaults
// instead of failing.
func decode(data json.RawMessage) map[string]any {
	fields := map[string]any{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &fields)
	}
	return fields
}

func encode(fields map[string]any) json.RawMessage {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}

// timestampOf extracts the record's updated_at value. Both RFC 3339 strings
// and numeric epoch seconds appear in backend payloads.
func timestampOf(fields map[string]any) (time.Time, bool) {
	raw, ok := fields["updated_at"]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	return time.Time{}, false
}

// localIsNewer compares the updated_at of both sides. Missing timestamps
// lose to present ones; when neither side carries one, local wins so the
// device the user is holding keeps its edit.
func localIsNewer(local, server map[string]any) bool {
	localTS, localOK := timestampOf(local)
	serverTS, serverOK := timestampOf(server)
	switch {
	case localOK && serverOK:
		return !localTS.Before(serverTS)
	case localOK:
		return true
	case serverOK:
		return false
	default:
		return true
	}
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
