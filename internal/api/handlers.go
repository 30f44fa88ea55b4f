// Package api exposes the engine to the UI collaborator over a local HTTP
// surface: queue status and progress, enqueueing mutations, conflict prompts
// and decisions, and per-session profile merges.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hisr2024/mindvibe/internal/cache"
	"github.com/hisr2024/mindvibe/internal/profile"
	"github.com/hisr2024/mindvibe/internal/resolver"
	"github.com/hisr2024/mindvibe/internal/store"
	"github.com/hisr2024/mindvibe/internal/types"
)

// SyncService defines the queue operations the handlers need.
type SyncService interface {
	QueueOperation(ctx context.Context, req types.EnqueueRequest) (string, error)
	ResolveConflict(ctx context.Context, operationID string, choice types.UserChoice, mergedData json.RawMessage) (*types.ConflictResolution, error)
	Progress(ctx context.Context) (types.SyncProgress, error)
	Sync(ctx context.Context) error
	Syncing() bool
}

// Handler implements the API handlers
type Handler struct {
	service  SyncService
	store    store.Store
	prompts  *cache.Cache[types.ConflictPrompt]
	deviceID string
	version  string
	now      func() time.Time

	// profileMu serializes read-modify-write of the single profile row so
	// concurrent session merges never lose an increment.
	profileMu sync.Mutex
}

// NewHandler creates a Handler. The prompt cache memoizes built conflict
// prompts between polls; entries are dropped when their conflict resolves.
func NewHandler(service SyncService, st store.Store, prompts *cache.Cache[types.ConflictPrompt], deviceID, version string) *Handler {
	return &Handler{
		service:  service,
		store:    st,
		prompts:  prompts,
		deviceID: deviceID,
		version:  version,
		now:      time.Now,
	}
}

// Health returns the engine health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		DeviceID: h.deviceID,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Progress(r.Context())
	if err != nil {
		slog.Error("computing progress failed", "error", err)
		MapServiceError(w, r, err)
		return
	}
	conflicts, err := h.store.ListConflicts(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	resp := types.StatusResponse{
		Progress:  progress,
		Pending:   progress.InProgress,
		Conflicts: len(conflicts),
		Syncing:   h.service.Syncing(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Enqueue handles POST /api/v1/operations
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req types.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	id, err := h.service.QueueOperation(r.Context(), req)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, types.EnqueueResponse{OperationID: id})
}

// TriggerSync handles POST /api/v1/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Sync(r.Context()); err != nil {
		slog.Error("sync pass failed", "error", err)
		MapServiceError(w, r, err)
		return
	}
	progress, err := h.service.Progress(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Conflicts handles GET /api/v1/conflicts. It returns the user-facing prompt
// for every unresolved conflict, memoized across polls.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.store.ListConflicts(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	prompts := make([]types.ConflictPrompt, 0, len(conflicts))
	for _, c := range conflicts {
		p, ok := h.prompts.Get(c.OperationID)
		if !ok {
			p = resolver.BuildPrompt(c)
			h.prompts.Set(r.Context(), c.OperationID, p)
		}
		prompts = append(prompts, p)
	}
	writeJSON(w, http.StatusOK, prompts)
}

// ResolveConflict handles POST /api/v1/conflicts/{operationID}/resolve
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationID")

	var req types.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	resolution, err := h.service.ResolveConflict(r.Context(), operationID, req.Choice, req.MergedData)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	h.prompts.Delete(r.Context(), operationID)
	writeJSON(w, http.StatusOK, resolution)
}

// MergeSession handles POST /api/v1/sessions. The body carries the session's
// extracted signals; an empty body merges as an observation-free session.
func (h *Handler) MergeSession(w http.ResponseWriter, r *http.Request) {
	var signals types.SessionSignals
	if err := json.NewDecoder(r.Body).Decode(&signals); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	h.profileMu.Lock()
	defer h.profileMu.Unlock()

	existing, err := h.store.GetProfile(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		MapServiceError(w, r, err)
		return
	}

	merged := profile.Merge(existing, &signals, h.now().UTC())
	if err := h.store.SaveProfile(r.Context(), merged); err != nil {
		slog.Error("saving merged profile failed", "error", err)
		MapServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// Profile handles GET /api/v1/profile. A never-merged install gets an empty
// profile, not an error.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.store.GetProfile(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, types.InnerStateProfile{})
		return
	}
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

// ExportProfile handles GET /api/v1/profile/export. Unlike routine sync
// failures, export reports its outcome explicitly.
func (h *Handler) ExportProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.store.GetProfile(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="mindvibe-profile.json"`)
	writeJSON(w, http.StatusOK, prof)
}

// ImportProfile handles POST /api/v1/profile/import. Corrupt data is
// rejected with an explicit error; this is the one surface where bad
// persisted data propagates to the caller instead of resetting silently.
func (h *Handler) ImportProfile(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var prof types.InnerStateProfile
	if err := dec.Decode(&prof); err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, fmt.Sprintf("Corrupt profile data: %s", err.Error()))
		return
	}
	if prof.Steadiness < 0 || prof.Steadiness > 1 || prof.SessionCount < 0 {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Profile fields out of range")
		return
	}

	h.profileMu.Lock()
	defer h.profileMu.Unlock()

	if err := h.store.SaveProfile(r.Context(), prof); err != nil {
		MapServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
