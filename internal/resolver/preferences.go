package resolver

import (
	"sort"

	"github.com/hisr2024/mindvibe/internal/types"
)

// PreferencesStrategy deep-merges nested settings blobs. Preferences are the
// one genuinely schema-free shape in the system, so the recursive merge is
// confined here; structured entities get explicit per-field merges instead.
// Local values win on key collisions.
type PreferencesStrategy struct{}

func (PreferencesStrategy) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	merged := deepMerge(server, local)

	mergedFields := sortedKeys(merged)
	sort.Strings(mergedFields)

	return types.ConflictResolution{
		Strategy:     types.StrategyMerge,
		ResolvedData: encode(merged),
		MergedFields: mergedFields,
		Rationale:    "settings merged, local values kept on collisions",
	}
}

// deepMerge merges override into base recursively. Maps merge key by key;
// any other collision takes the override value.
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		baseMap, baseOK := out[k].(map[string]any)
		overrideMap, overrideOK := v.(map[string]any)
		if baseOK && overrideOK {
			out[k] = deepMerge(baseMap, overrideMap)
			continue
		}
		out[k] = v
	}
	return out
}
