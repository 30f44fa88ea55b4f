package resolver

import (
	"sort"

	"github.com/hisr2024/mindvibe/internal/types"
)

// InteractionMetricsStrategy merges usage counters recorded independently on
// two devices: numeric counters sum, booleans OR, and the later updated_at
// wins. Non-mergeable fields keep the local value.
type InteractionMetricsStrategy struct{}

func (InteractionMetricsStrategy) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	merged := make(map[string]any, len(local)+len(server))
	var mergedFields []string

	keys := map[string]bool{}
	for k := range local {
		keys[k] = true
	}
	for k := range server {
		keys[k] = true
	}

	for key := range keys {
		lv, lok := local[key]
		sv, sok := server[key]

		switch {
		case key == "updated_at":
			if ts, ok := laterTimestamp(local, server); ok {
				merged[key] = ts
				mergedFields = append(mergedFields, key)
			}
		case lok && sok:
			if ln, lIsNum := lv.(float64); lIsNum {
				if sn, sIsNum := sv.(float64); sIsNum {
					merged[key] = ln + sn
					mergedFields = append(mergedFields, key)
					continue
				}
			}
			if lb, lIsBool := lv.(bool); lIsBool {
				if sb, sIsBool := sv.(bool); sIsBool {
					merged[key] = lb || sb
					mergedFields = append(mergedFields, key)
					continue
				}
			}
			merged[key] = lv // type mismatch or unmergeable: local wins
		case lok:
			merged[key] = lv
		default:
			merged[key] = sv
		}
	}

	sort.Strings(mergedFields)
	return types.ConflictResolution{
		Strategy:     types.StrategyMerge,
		ResolvedData: encode(merged),
		MergedFields: mergedFields,
		Rationale:    "counters summed across devices",
	}
}
