package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSyncOperation_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	next := now.Add(30 * time.Second)
	serverVersion := int64(4)

	op := SyncOperation{
		ID:            "01JTEST000000000000000000",
		EntityType:    EntityJournal,
		OperationType: OpUpdate,
		EntityID:      "journal-123",
		Payload:       json.RawMessage(`{"text":"Grateful today"}`),
		EnqueuedAt:    now,
		RetryCount:    2,
		Status:        StatusFailed,
		LocalVersion:  7,
		ServerVersion: &serverVersion,
		NextAttemptAt: &next,
		LastError:     "503 from backend",
	}

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded SyncOperation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != op.ID {
		t.Errorf("ID: got %q, want %q", decoded.ID, op.ID)
	}
	if decoded.EntityType != op.EntityType {
		t.Errorf("EntityType: got %q, want %q", decoded.EntityType, op.EntityType)
	}
	if decoded.Status != op.Status {
		t.Errorf("Status: got %q, want %q", decoded.Status, op.Status)
	}
	if decoded.RetryCount != op.RetryCount {
		t.Errorf("RetryCount: got %d, want %d", decoded.RetryCount, op.RetryCount)
	}
	if decoded.ServerVersion == nil || *decoded.ServerVersion != serverVersion {
		t.Errorf("ServerVersion: got %v, want %d", decoded.ServerVersion, serverVersion)
	}
	if string(decoded.Payload) != string(op.Payload) {
		t.Errorf("Payload: got %s, want %s", decoded.Payload, op.Payload)
	}
}

func TestInnerStateProfile_NilMapsMarshalAsObjects(t *testing.T) {
	// Given: A zero-value profile with nil maps
	profile := InnerStateProfile{}

	// When: Marshalled to JSON
	data, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Then: Maps appear as {} rather than null
	s := string(data)
	if strings.Contains(s, "null") {
		t.Errorf("Expected no null fields, got: %s", s)
	}
	for _, key := range []string{`"themes":{}`, `"growth_signals":{}`, `"reactivity":{}`, `"awareness":{}`} {
		if !strings.Contains(s, key) {
			t.Errorf("Expected %s in output, got: %s", key, s)
		}
	}
}

func TestConflictResolution_NilSlicesMarshalAsArrays(t *testing.T) {
	res := ConflictResolution{Strategy: StrategyMerge}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"merged_fields":[]`) {
		t.Errorf("Expected empty merged_fields array, got: %s", s)
	}
	if !strings.Contains(s, `"discarded_fields":[]`) {
		t.Errorf("Expected empty discarded_fields array, got: %s", s)
	}
}

func TestSyncConflict_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	conflict := SyncConflict{
		OperationID: "01JTEST000000000000000001",
		EntityType:  EntityJourneyProgress,
		EntityID:    "journey-7",
		LocalData:   json.RawMessage(`{"current_step":5}`),
		ServerData:  json.RawMessage(`{"current_step":3}`),
		DetectedAt:  now,
		Resolution: &ConflictResolution{
			Strategy:     StrategyMerge,
			ResolvedData: json.RawMessage(`{"current_step":5}`),
		},
	}

	data, err := json.Marshal(conflict)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded SyncConflict
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.OperationID != conflict.OperationID {
		t.Errorf("OperationID: got %q, want %q", decoded.OperationID, conflict.OperationID)
	}
	if decoded.Resolution == nil {
		t.Fatal("Expected resolution to survive round trip")
	}
	if decoded.Resolution.Strategy != StrategyMerge {
		t.Errorf("Strategy: got %q, want %q", decoded.Resolution.Strategy, StrategyMerge)
	}
}
