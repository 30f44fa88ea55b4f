package types

import (
	"encoding/json"
	"time"
)

// EntityType identifies the kind of record an operation or conflict refers to.
type EntityType string

const (
	EntityMoodLog            EntityType = "mood_log"
	EntityJournal            EntityType = "journal"
	EntityJourneyProgress    EntityType = "journey_progress"
	EntityPreferences        EntityType = "preferences"
	EntityInteractionMetrics EntityType = "interaction_metrics"
)

// OperationType is the kind of mutation queued for the backend.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// OperationStatus tracks a queued operation through its lifecycle.
type OperationStatus string

const (
	StatusPending  OperationStatus = "pending"
	StatusSyncing  OperationStatus = "syncing"
	StatusSynced   OperationStatus = "synced"
	StatusFailed   OperationStatus = "failed"
	StatusConflict OperationStatus = "conflict"
)

// SyncOperation is a durable queued mutation. At most one non-terminal
// operation exists per (EntityID, EntityType); a newer enqueue supersedes
// the older one.
type SyncOperation struct {
	ID            string          `json:"id"`
	EntityType    EntityType      `json:"entity_type"`
	OperationType OperationType   `json:"operation_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	Status        OperationStatus `json:"status"`
	LocalVersion  int64           `json:"local_version"`
	ServerVersion *int64          `json:"server_version,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// SyncConflict records a divergence between local and server state, detected
// via a 409 rejection. It exists from detection until resolution.
type SyncConflict struct {
	OperationID string              `json:"operation_id"`
	EntityType  EntityType          `json:"entity_type"`
	EntityID    string              `json:"entity_id"`
	LocalData   json.RawMessage     `json:"local_data"`
	ServerData  json.RawMessage     `json:"server_data"`
	DetectedAt  time.Time           `json:"detected_at"`
	Resolution  *ConflictResolution `json:"resolution,omitempty"`
}

// ResolutionStrategy names how a conflict was (or should be) resolved.
type ResolutionStrategy string

const (
	StrategyLastWriteWins ResolutionStrategy = "last-write-wins"
	StrategyMerge         ResolutionStrategy = "merge"
	StrategyUserPrompt    ResolutionStrategy = "user-prompt"
	StrategyKeepBoth      ResolutionStrategy = "keep-both"
)

// ConflictResolution is the outcome of resolving a conflict. Resolution is a
// pure function of the conflict data; persisting the result is the caller's
// job.
type ConflictResolution struct {
	Strategy          ResolutionStrategy `json:"strategy"`
	ResolvedData      json.RawMessage    `json:"resolved_data,omitempty"`
	RequiresUserInput bool               `json:"requires_user_input"`
	MergedFields      []string           `json:"merged_fields"`
	DiscardedFields   []string           `json:"discarded_fields"`
	Rationale         string             `json:"rationale,omitempty"`
}

// ConflictPrompt is the user-facing question built from a conflict that
// requires an explicit choice.
type ConflictPrompt struct {
	OperationID    string `json:"operation_id"`
	Question       string `json:"question"`
	LocalOption    string `json:"local_option"`
	ServerOption   string `json:"server_option"`
	KeepBothOption string `json:"keep_both_option,omitempty"`
}

// UserChoice is the UI's answer to a conflict prompt.
type UserChoice string

const (
	ChoiceLocal    UserChoice = "local"
	ChoiceServer   UserChoice = "server"
	ChoiceMerge    UserChoice = "merge"
	ChoiceKeepBoth UserChoice = "keep-both"
)

// SyncProgress is pushed to progress listeners on every status transition.
type SyncProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// ThemeState tracks one recurring theme in the profile.
type ThemeState struct {
	Weight      float64 `json:"weight"`
	FirstSeen   int     `json:"first_seen"`
	LastSeen    int     `json:"last_seen"`
	Occurrences int     `json:"occurrences"`
}

// GrowthSignalState tracks one growth signal. Level only rises once the
// signal has been confirmed across enough consecutive sessions.
type GrowthSignalState struct {
	Level               float64 `json:"level"`
	ConsecutiveSessions int     `json:"consecutive_sessions"`
	LastConfirmed       int     `json:"last_confirmed"`
}

// ReactivityTrend classifies the direction a reactivity marker is moving.
type ReactivityTrend string

const (
	TrendSoftening  ReactivityTrend = "softening"
	TrendStable     ReactivityTrend = "stable"
	TrendEscalating ReactivityTrend = "escalating"
)

// ReactivityState tracks one reactivity marker under exponential smoothing.
type ReactivityState struct {
	Intensity float64         `json:"intensity"`
	Trend     ReactivityTrend `json:"trend"`
	Sessions  int             `json:"sessions"`
	LastSeen  int             `json:"last_seen"`
}

// InnerStateProfile is the persisted behavioral profile, rewritten once per
// session by the merge engine. All numeric fields stay within their defined
// ranges; the engine never deletes a profile.
type InnerStateProfile struct {
	Themes        map[string]ThemeState        `json:"themes"`
	GrowthSignals map[string]GrowthSignalState `json:"growth_signals"`
	Reactivity    map[string]ReactivityState   `json:"reactivity"`
	Awareness     map[string]float64           `json:"awareness"`
	Steadiness    float64                      `json:"steadiness"`
	SessionCount  int                          `json:"session_count"`
	LastUpdated   time.Time                    `json:"last_updated"`
}

// SessionSignals is the per-session output of external signal extraction,
// consumed verbatim by the merge engine. A nil or empty value merges as an
// observation-free session.
type SessionSignals struct {
	ThemesDetected        []string           `json:"themes_detected"`
	GrowthSignalsDetected []string           `json:"growth_signals_detected"`
	ReactivityMarkers     map[string]float64 `json:"reactivity_markers"`
	AwarenessIndicators   []string           `json:"awareness_indicators"`
	SteadinessObserved    *float64           `json:"steadiness_observed,omitempty"`
}

// EnqueueRequest is the API request to queue a mutation.
type EnqueueRequest struct {
	EntityType    EntityType      `json:"entity_type"`
	OperationType OperationType   `json:"operation_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse returns the ID of the queued operation.
type EnqueueResponse struct {
	OperationID string `json:"operation_id"`
}

// ResolveRequest is the API request carrying a user's conflict decision.
type ResolveRequest struct {
	Choice     UserChoice      `json:"choice"`
	MergedData json.RawMessage `json:"merged_data,omitempty"`
}

// StatusResponse reports queue health to the UI. Pending counts and conflict
// prompts are the only failure signals surfaced.
type StatusResponse struct {
	Progress  SyncProgress `json:"progress"`
	Pending   int          `json:"pending"`
	Conflicts int          `json:"conflicts"`
	Syncing   bool         `json:"syncing"`
}

// HealthResponse is the engine health check payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	DeviceID string `json:"device_id,omitempty"`
}

// MarshalJSON ensures nil maps in InnerStateProfile marshal as {} not null.
func (p InnerStateProfile) MarshalJSON() ([]byte, error) {
	if p.Themes == nil {
		p.Themes = map[string]ThemeState{}
	}
	if p.GrowthSignals == nil {
		p.GrowthSignals = map[string]GrowthSignalState{}
	}
	if p.Reactivity == nil {
		p.Reactivity = map[string]ReactivityState{}
	}
	if p.Awareness == nil {
		p.Awareness = map[string]float64{}
	}
	type Alias InnerStateProfile
	return json.Marshal(Alias(p))
}

// MarshalJSON ensures nil slices in ConflictResolution marshal as [] not null.
func (r ConflictResolution) MarshalJSON() ([]byte, error) {
	if r.MergedFields == nil {
		r.MergedFields = []string{}
	}
	if r.DiscardedFields == nil {
		r.DiscardedFields = []string{}
	}
	type Alias ConflictResolution
	return json.Marshal(Alias(r))
}
