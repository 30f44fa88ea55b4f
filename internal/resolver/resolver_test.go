package resolver

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/hisr2024/mindvibe/internal/types"
)

func conflictFor(entityType types.EntityType, local, server string) types.SyncConflict {
	return types.SyncConflict{
		OperationID: "op-1",
		EntityType:  entityType,
		EntityID:    "entity-1",
		LocalData:   json.RawMessage(local),
		ServerData:  json.RawMessage(server),
	}
}

func TestRegistry_UnknownEntityFallsBackToLastWriteWins(t *testing.T) {
	r := NewRegistry()
	conflict := conflictFor("something_new",
		`{"value":1,"updated_at":100}`,
		`{"value":2,"updated_at":105}`)

	res := r.Resolve(conflict)

	if res.Strategy != types.StrategyLastWriteWins {
		t.Errorf("Strategy: got %q, want last-write-wins", res.Strategy)
	}
	if string(res.ResolvedData) != string(conflict.ServerData) {
		t.Errorf("Expected server side (later timestamp) to win, got %s", res.ResolvedData)
	}
}

func TestRegistry_ResolveIsDeterministic(t *testing.T) {
	r := NewRegistry()
	conflicts := []types.SyncConflict{
		conflictFor(types.EntityMoodLog, `{"score":7,"updated_at":200}`, `{"score":4,"updated_at":100}`),
		conflictFor(types.EntityJournal, `{"text":"A quiet morning"}`, `{"text":"A loud evening"}`),
		conflictFor(types.EntityJourneyProgress,
			`{"current_step":5,"completed_steps":[1,2,5],"time_spent_seconds":60,"updated_at":100}`,
			`{"current_step":3,"completed_steps":[1,3],"time_spent_seconds":40,"updated_at":105}`),
		conflictFor(types.EntityPreferences, `{"theme":"dark","audio":{"volume":5}}`, `{"audio":{"volume":3,"muted":true}}`),
		conflictFor(types.EntityInteractionMetrics, `{"views":3,"liked":true,"updated_at":100}`, `{"views":4,"liked":false,"updated_at":105}`),
	}

	for _, conflict := range conflicts {
		first := r.Resolve(conflict)
		for i := 0; i < 5; i++ {
			again := r.Resolve(conflict)
			if !reflect.DeepEqual(first, again) {
				t.Errorf("%s: resolution not deterministic:\n%+v\n%+v", conflict.EntityType, first, again)
			}
		}
	}
}

func TestLastWriteWins_LocalWinsOnTie(t *testing.T) {
	res := LastWriteWins{}.Resolve(conflictFor(types.EntityMoodLog,
		`{"score":7,"updated_at":100}`,
		`{"score":4,"updated_at":100}`))

	if string(res.ResolvedData) != `{"score":7,"updated_at":100}` {
		t.Errorf("Expected local side to win the tie, got %s", res.ResolvedData)
	}
}

func TestLastWriteWins_MissingTimestampsFavorLocal(t *testing.T) {
	res := LastWriteWins{}.Resolve(conflictFor(types.EntityMoodLog, `{"score":7}`, `{"score":4}`))

	if string(res.ResolvedData) != `{"score":7}` {
		t.Errorf("Expected local side without timestamps, got %s", res.ResolvedData)
	}
}

func TestJournal_IdenticalContentCollapsesToTimestamps(t *testing.T) {
	res := JournalStrategy{}.Resolve(conflictFor(types.EntityJournal,
		`{"text":"Grateful   today","updated_at":100}`,
		`{"text":"Grateful today","updated_at":105}`))

	if res.Strategy != types.StrategyLastWriteWins {
		t.Errorf("Strategy: got %q, want last-write-wins for same content", res.Strategy)
	}
	if res.RequiresUserInput {
		t.Error("Same content must not require user input")
	}
	// Server timestamp is later.
	var resolved map[string]any
	if err := json.Unmarshal(res.ResolvedData, &resolved); err != nil {
		t.Fatalf("decode resolved: %v", err)
	}
	if resolved["updated_at"] != float64(105) {
		t.Errorf("Expected later edit to win, got %v", resolved["updated_at"])
	}
}

func TestJournal_DivergedContentRequiresUser(t *testing.T) {
	// Given: Device A and device B edited the same entry seconds apart
	conflict := conflictFor(types.EntityJournal,
		`{"text":"Grateful today","updated_at":100}`,
		`{"text":"Grateful and peaceful today","updated_at":105}`)

	res := JournalStrategy{}.Resolve(conflict)

	// Then: The resolution defers to the user, defaulting to local
	if res.Strategy != types.StrategyUserPrompt {
		t.Errorf("Strategy: got %q, want user-prompt", res.Strategy)
	}
	if !res.RequiresUserInput {
		t.Error("Expected RequiresUserInput=true")
	}
	if string(res.ResolvedData) != string(conflict.LocalData) {
		t.Errorf("Default resolved data must be local, got %s", res.ResolvedData)
	}

	// And: Both texts appear as the prompt's options
	prompt := BuildPrompt(conflict)
	if prompt.LocalOption != "Grateful today" {
		t.Errorf("LocalOption: got %q", prompt.LocalOption)
	}
	if prompt.ServerOption != "Grateful and peaceful today" {
		t.Errorf("ServerOption: got %q", prompt.ServerOption)
	}
	if prompt.KeepBothOption == "" {
		t.Error("Journal prompts must offer keep-both")
	}
}

func TestJourneyProgress_MergesFieldwise(t *testing.T) {
	res := JourneyProgressStrategy{}.Resolve(conflictFor(types.EntityJourneyProgress,
		`{"current_step":5,"percent_complete":50,"completed_steps":[1,2,5],"time_spent_seconds":60,"updated_at":100}`,
		`{"current_step":3,"percent_complete":30,"completed_steps":[1,3],"time_spent_seconds":40,"updated_at":105}`))

	if res.Strategy != types.StrategyMerge {
		t.Fatalf("Strategy: got %q, want merge", res.Strategy)
	}

	var merged map[string]any
	if err := json.Unmarshal(res.ResolvedData, &merged); err != nil {
		t.Fatalf("decode merged: %v", err)
	}

	if merged["current_step"] != float64(5) {
		t.Errorf("current_step: got %v, want max 5", merged["current_step"])
	}
	if merged["percent_complete"] != float64(50) {
		t.Errorf("percent_complete: got %v, want max 50", merged["percent_complete"])
	}
	if merged["time_spent_seconds"] != float64(100) {
		t.Errorf("time_spent_seconds: got %v, want sum 100", merged["time_spent_seconds"])
	}
	if merged["updated_at"] != float64(105) {
		t.Errorf("updated_at: got %v, want later 105", merged["updated_at"])
	}

	steps, ok := merged["completed_steps"].([]any)
	if !ok {
		t.Fatalf("completed_steps missing: %v", merged["completed_steps"])
	}
	want := map[float64]bool{1: true, 2: true, 3: true, 5: true}
	if len(steps) != len(want) {
		t.Fatalf("completed_steps: got %v, want union of 4 steps", steps)
	}
	for _, s := range steps {
		if !want[s.(float64)] {
			t.Errorf("Unexpected step %v in union", s)
		}
	}
}

func TestPreferences_DeepMergeLocalWins(t *testing.T) {
	res := PreferencesStrategy{}.Resolve(conflictFor(types.EntityPreferences,
		`{"theme":"dark","audio":{"volume":5},"locale":"en"}`,
		`{"theme":"light","audio":{"volume":3,"muted":true},"notifications":{"daily":true}}`))

	var merged map[string]any
	if err := json.Unmarshal(res.ResolvedData, &merged); err != nil {
		t.Fatalf("decode merged: %v", err)
	}

	if merged["theme"] != "dark" {
		t.Errorf("theme: got %v, want local dark", merged["theme"])
	}
	if merged["locale"] != "en" {
		t.Errorf("locale: got %v, want en (local-only kept)", merged["locale"])
	}

	audio := merged["audio"].(map[string]any)
	if audio["volume"] != float64(5) {
		t.Errorf("audio.volume: got %v, want local 5", audio["volume"])
	}
	if audio["muted"] != true {
		t.Errorf("audio.muted: got %v, want server-only value kept", audio["muted"])
	}

	if _, ok := merged["notifications"]; !ok {
		t.Error("Server-only nested block dropped")
	}
}

func TestInteractionMetrics_SumOrAndLater(t *testing.T) {
	res := InteractionMetricsStrategy{}.Resolve(conflictFor(types.EntityInteractionMetrics,
		`{"views":3,"liked":false,"shared":true,"updated_at":100}`,
		`{"views":4,"liked":true,"shared":false,"updated_at":105}`))

	var merged map[string]any
	if err := json.Unmarshal(res.ResolvedData, &merged); err != nil {
		t.Fatalf("decode merged: %v", err)
	}

	if merged["views"] != float64(7) {
		t.Errorf("views: got %v, want sum 7", merged["views"])
	}
	if merged["liked"] != true || merged["shared"] != true {
		t.Errorf("booleans: got liked=%v shared=%v, want both true (OR)", merged["liked"], merged["shared"])
	}
	if merged["updated_at"] != float64(105) {
		t.Errorf("updated_at: got %v, want later 105", merged["updated_at"])
	}
}

func TestBatchResolver_PartitionsResults(t *testing.T) {
	batch := NewBatchResolver(NewRegistry())

	result := batch.ResolveAll([]types.SyncConflict{
		conflictFor(types.EntityMoodLog, `{"score":7,"updated_at":200}`, `{"score":4,"updated_at":100}`),
		conflictFor(types.EntityJournal, `{"text":"Morning pages"}`, `{"text":"Completely different reflection"}`),
		conflictFor(types.EntityInteractionMetrics, `{"views":1}`, `{"views":2}`),
	})

	if len(result.AutoResolved) != 2 {
		t.Errorf("AutoResolved: got %d, want 2", len(result.AutoResolved))
	}
	if len(result.NeedsUserInput) != 1 {
		t.Errorf("NeedsUserInput: got %d, want 1", len(result.NeedsUserInput))
	}
	if len(result.NeedsUserInput) == 1 && result.NeedsUserInput[0].Conflict.EntityType != types.EntityJournal {
		t.Errorf("Expected the journal conflict to need input, got %s", result.NeedsUserInput[0].Conflict.EntityType)
	}
}

func TestBuildPrompt_NonTextEntitySummarizesFields(t *testing.T) {
	conflict := conflictFor(types.EntityMoodLog,
		`{"score":7,"note":"calm","updated_at":100}`,
		`{"score":4,"note":"tense","updated_at":105}`)

	prompt := BuildPrompt(conflict)

	if prompt.KeepBothOption != "" {
		t.Error("Non-journal prompts must not offer keep-both")
	}
	if !strings.Contains(prompt.LocalOption, "score: 7") {
		t.Errorf("LocalOption missing field summary: %q", prompt.LocalOption)
	}
	if !strings.Contains(prompt.ServerOption, "score: 4") {
		t.Errorf("ServerOption missing field summary: %q", prompt.ServerOption)
	}
	if !strings.Contains(prompt.Question, "mood log") {
		t.Errorf("Question missing entity label: %q", prompt.Question)
	}
}

func TestBuildPrompt_DoesNotMutateConflict(t *testing.T) {
	conflict := conflictFor(types.EntityJournal, `{"text":"a"}`, `{"text":"b"}`)
	before := conflict

	BuildPrompt(conflict)

	if !reflect.DeepEqual(conflict, before) {
		t.Error("BuildPrompt mutated the conflict")
	}
}

func TestTimestampOf_SupportsStringAndNumeric(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantOK  bool
	}{
		{"rfc3339", `{"updated_at":"2026-08-29T12:00:00Z"}`, true},
		{"epoch seconds", `{"updated_at":105}`, true},
		{"missing", `{"score":1}`, false},
		{"unparseable", `{"updated_at":"yesterday"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := timestampOf(decode(json.RawMessage(tc.payload)))
			if ok != tc.wantOK {
				t.Errorf("got ok=%v, want %v", ok, tc.wantOK)
			}
		})
	}
}
