package resolver

import (
	"fmt"

	"github.com/hisr2024/mindvibe/internal/types"
)

// promptTextLimit truncates long payload previews in prompt options.
const promptTextLimit = 120

// BuildPrompt turns a conflict into the user-facing question shown by the
// UI. It reads the conflict data only — resolution state is never touched.
func BuildPrompt(conflict types.SyncConflict) types.ConflictPrompt {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	prompt := types.ConflictPrompt{
		OperationID:  conflict.OperationID,
		LocalOption:  optionText(local),
		ServerOption: optionText(server),
	}

	switch conflict.EntityType {
	case types.EntityJournal:
		prompt.Question = "This journal entry was changed on another device. Which version would you like to keep?"
		prompt.KeepBothOption = "Keep both as separate entries"
	default:
		prompt.Question = fmt.Sprintf("Your %s was changed on another device. Which version would you like to keep?",
			entityLabel(conflict.EntityType))
	}

	return prompt
}

// optionText summarizes one side of the conflict for display.
func optionText(fields map[string]any) string {
	if text := journalText(fields); text != "" {
		return truncate(text, promptTextLimit)
	}
	// No free-text body; fall back to a compact field listing.
	summary := ""
	for _, key := range sortedKeys(fields) {
		if key == "updated_at" || key == "id" {
			continue
		}
		if summary != "" {
			summary += ", "
		}
		summary += fmt.Sprintf("%s: %v", key, fields[key])
	}
	return truncate(summary, promptTextLimit)
}

func entityLabel(entityType types.EntityType) string {
	switch entityType {
	case types.EntityMoodLog:
		return "mood log"
	case types.EntityJourneyProgress:
		return "journey progress"
	case types.EntityPreferences:
		return "settings"
	case types.EntityInteractionMetrics:
		return "activity stats"
	default:
		return "record"
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
