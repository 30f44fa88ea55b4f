package resolver

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hisr2024/mindvibe/internal/types"
)

// sameContentThreshold is the similarity ratio above which two journal texts
// count as the same content (whitespace and punctuation drift), collapsing
// the conflict to a timestamp comparison. Anything below needs the user.
const sameContentThreshold = 0.95

// JournalStrategy handles free-text entities. Identical content resolves by
// timestamp alone; substantially different content defaults to the local
// version and asks the user to choose between keep-mine, keep-theirs, or
// keep both as separate records.
type JournalStrategy struct{}

func (JournalStrategy) Resolve(conflict types.SyncConflict) types.ConflictResolution {
	local := decode(conflict.LocalData)
	server := decode(conflict.ServerData)

	localText := journalText(local)
	serverText := journalText(server)

	if textSimilarity(localText, serverText) >= sameContentThreshold {
		return LastWriteWins{}.Resolve(conflict)
	}

	return types.ConflictResolution{
		Strategy:          types.StrategyUserPrompt,
		ResolvedData:      conflict.LocalData,
		RequiresUserInput: true,
		Rationale:         "journal texts diverged; defaulting to local pending user choice",
	}
}

// journalText pulls the free-text body from a journal payload.
func journalText(fields map[string]any) string {
	for _, key := range []string{"text", "content", "body"} {
		if v, ok := fields[key].(string); ok {
			return v
		}
	}
	return ""
}

// textSimilarity returns 1 for identical normalized text, scaling down with
// the Levenshtein distance between the two versions.
func textSimilarity(a, b string) float64 {
	a = normalizeText(a)
	b = normalizeText(b)
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	return 1 - float64(distance)/float64(longest)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
