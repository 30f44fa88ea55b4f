package resolver

import (
	"encoding/json"
	"sort"

	"github.com/hisr2024/mindvibe/internal/types"
)

// JourneyProgressStrategy merges progress/counter entities field by field:
// monotonic counters take the maximum, completed-step sets union, cumulative
// counters sum, and the later updated_at wins. Progress is never lost to
// whichever device synced last.
type JourneyProgressStrategy struct{}

func (JourneyProgressStrategy) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	// Base on the later side so fields outside the merge schema keep the
	// freshest value.
	var merged map[string]any
	if localIsNewer(local, server) {
		merged = overlay(server, local)
	} else {
		merged = overlay(local, server)
	}

	var mergedFields []string

	for _, key := range []string{"current_step", "percent_complete"} {
		if v, ok := maxNumber(local, server, key); ok {
			merged[key] = v
			mergedFields = append(mergedFields, key)
		}
	}

	if steps, ok := unionSteps(local, server); ok {
		merged["completed_steps"] = steps
		mergedFields = append(mergedFields, "completed_steps")
	}

	if v, ok := sumNumber(local, server, "time_spent_seconds"); ok {
		merged["time_spent_seconds"] = v
		mergedFields = append(mergedFields, "time_spent_seconds")
	}

	if ts, ok := laterTimestamp(local, server); ok {
		merged["updated_at"] = ts
		mergedFields = append(mergedFields, "updated_at")
	}

	sort.Strings(mergedFields)
	return types.ConflictResolution{
		Strategy:     types.StrategyMerge,
		ResolvedData: encode(merged),
		MergedFields: mergedFields,
		Rationale:    "combined progress from both devices",
	}
}

// overlay copies base then lays every top-level field of top over it.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

func number(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key].(float64)
	return v, ok
}

func maxNumber(local, server map[string]any, key string) (float64, bool) {
	lv, lok := number(local, key)
	sv, sok := number(server, key)
	switch {
	case lok && sok:
		return max(lv, sv), true
	case lok:
		return lv, true
	case sok:
		return sv, true
	default:
		return 0, false
	}
}

func sumNumber(local, server map[string]any, key string) (float64, bool) {
	lv, lok := number(local, key)
	sv, sok := number(server, key)
	if !lok && !sok {
		return 0, false
	}
	return lv + sv, true
}

// unionSteps merges the completed_steps arrays of both sides, de-duplicated
// and sorted for deterministic output.
func unionSteps(local, server map[string]any) ([]any, bool) {
	lSteps, lok := local["completed_steps"].([]any)
	sSteps, sok := server["completed_steps"].([]any)
	if !lok && !sok {
		return nil, false
	}

	seen := map[string]any{}
	for _, step := range append(append([]any{}, lSteps...), sSteps...) {
		key, err := stableKey(step)
		if err != nil {
			continue
		}
		seen[key] = step
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	union := make([]any, 0, len(keys))
	for _, k := range keys {
		union = append(union, seen[k])
	}
	return union, true
}

// stableKey gives any JSON value a comparable identity for de-duplication.
func stableKey(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// laterTimestamp returns the later of the two updated_at values, preserving
// its original encoding.
func laterTimestamp(local, server map[string]any) (any, bool) {
	localTS, localOK := timestampOf(local)
	serverTS, serverOK := timestampOf(server)
	switch {
	case localOK && serverOK:
		if localTS.Before(serverTS) {
			return server["updated_at"], true
		}
		return local["updated_at"], true
	case localOK:
		return local["updated_at"], true
	case serverOK:
		return server["updated_at"], true
	default:
		return nil, false
	}
}
