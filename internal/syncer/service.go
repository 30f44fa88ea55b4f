// Package syncer owns the durable mutation queue and the sync loop. A
// Service is explicitly constructed from its collaborators (store, backend
// transport, clock) so tests can substitute fakes; there is no ambient
// singleton. A pass over the queue is strictly sequential and guarded by a
// reentrancy flag, so at most one pass runs at a time.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hisr2024/mindvibe/internal/config"
	"github.com/hisr2024/mindvibe/internal/resolver"
	"github.com/hisr2024/mindvibe/internal/store"
	"github.com/hisr2024/mindvibe/internal/transport"
	"github.com/hisr2024/mindvibe/internal/types"
)

// ErrKeepBothUnsupported is returned when a keep-both choice is made for an
// entity type that cannot hold duplicate records.
var ErrKeepBothUnsupported = errors.New("keep-both is only supported for journal entries")

// Transport is what the sync loop needs from the backend client.
type Transport interface {
	Push(ctx context.Context, op *types.SyncOperation) (*transport.Result, error)
	Reachable(ctx context.Context) bool
}

// Clock abstracts wall-clock time for backoff scheduling and retention.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ProgressListener receives queue progress on every status transition.
type ProgressListener func(types.SyncProgress)

// Option configures optional Service collaborators.
type Option func(*Service)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRegistry substitutes the conflict strategy registry.
func WithRegistry(registry *resolver.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// Service owns the operation queue. All mutation flows through it: enqueue,
// the sync pass, and user conflict decisions.
type Service struct {
	store     store.Store
	transport Transport
	registry  *resolver.Registry
	cfg       config.SyncConfig
	clock     Clock
	logger    *slog.Logger

	mu        sync.Mutex
	syncing   bool
	listeners []ProgressListener
}

// New creates a sync service over the given store and backend transport.
func New(st store.Store, tr Transport, cfg config.SyncConfig, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		transport: tr,
		registry:  resolver.NewRegistry(),
		cfg:       cfg,
		clock:     systemClock{},
		logger:    logger.With("component", "syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddProgressListener registers a listener for status transitions. Listeners
// are called synchronously from the mutating goroutine and must not block.
func (s *Service) AddProgressListener(fn ProgressListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Syncing reports whether a pass is currently running.
func (s *Service) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// QueueOperation enqueues a mutation for the backend. A live operation for
// the same (entityType, entityID) is superseded: the newer payload replaces
// it and exactly one queued operation remains. If the backend is reachable a
// sync pass is attempted immediately.
func (s *Service) QueueOperation(ctx context.Context, req types.EnqueueRequest) (string, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return "", errors.New("entity_type and entity_id are required")
	}
	if req.OperationType == "" {
		return "", errors.New("operation_type is required")
	}

	op := types.SyncOperation{
		ID:            ulid.Make().String(),
		EntityType:    req.EntityType,
		OperationType: req.OperationType,
		EntityID:      req.EntityID,
		Payload:       req.Payload,
		EnqueuedAt:    s.clock.Now().UTC(),
		Status:        types.StatusPending,
		LocalVersion:  1,
	}

	prior, err := s.store.FindLiveOperation(ctx, req.EntityType, req.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("checking live operation: %w", err)
	}
	if prior != nil {
		op.LocalVersion = prior.LocalVersion + 1
		if err := s.store.DeleteOperation(ctx, prior.ID); err != nil {
			return "", fmt.Errorf("superseding operation %s: %w", prior.ID, err)
		}
		s.logger.Debug("superseded queued operation",
			"action", "queue",
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"superseded_id", prior.ID)
	}

	if err := s.store.SaveOperation(ctx, op); err != nil {
		return "", fmt.Errorf("persisting operation: %w", err)
	}
	s.notifyProgress(ctx)

	if s.transport.Reachable(ctx) {
		if err := s.Sync(ctx); err != nil {
			s.logger.Warn("triggered sync pass failed", "action", "queue", "error", err)
		}
	}
	return op.ID, nil
}

// Sync runs one pass over the queue. It is idempotent: a no-op when a pass
// is already running or the backend is unreachable. Eligible operations are
// snapshotted at pass start, so enqueues that interleave with the pass are
// picked up next time, and processed strictly in enqueue order.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.transport.Reachable(ctx) {
		return nil
	}

	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("listing operations: %w", err)
	}
	now := s.clock.Now().UTC()

	for _, snapshot := range ops {
		if !s.eligible(snapshot, now) {
			continue
		}
		// Re-read: the snapshot may have been superseded by an enqueue
		// that interleaved with this pass.
		op, err := s.store.GetOperation(ctx, snapshot.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reloading operation %s: %w", snapshot.ID, err)
		}

		halted, err := s.processOne(ctx, op)
		if err != nil {
			return err
		}
		if halted {
			// Connectivity lost. The in-flight operation stays marked
			// syncing and is retried on the next pass.
			s.logger.Info("backend unreachable, halting pass",
				"action", "sync",
				"remaining_from", op.ID)
			break
		}
	}

	pruned, err := s.store.PruneSynced(ctx, now.Add(-time.Duration(s.cfg.SyncedRetention)))
	if err != nil {
		s.logger.Warn("pruning synced operations failed", "action", "sync", "error", err)
	} else if pruned > 0 {
		s.logger.Debug("pruned synced operations", "action", "sync", "count", pruned)
	}
	s.notifyProgress(ctx)
	return nil
}

// eligible reports whether an operation should be attempted this pass.
// Operations still marked syncing are leftovers from a halted pass or a
// crashed process and are retryable, not stuck.
func (s *Service) eligible(op types.SyncOperation, now time.Time) bool {
	switch op.Status {
	case types.StatusPending, types.StatusSyncing:
		return true
	case types.StatusFailed:
		if op.RetryCount >= s.cfg.MaxRetries {
			return false
		}
		return op.NextAttemptAt == nil || !now.Before(*op.NextAttemptAt)
	default:
		return false
	}
}

// processOne pushes a single operation and applies the outcome. The bool
// result reports whether the pass must halt (connectivity lost).
func (s *Service) processOne(ctx context.Context, op *types.SyncOperation) (bool, error) {
	if !transport.Supports(op.EntityType, op.OperationType) {
		return false, s.skipUnsupported(ctx, op, "capability table")
	}

	op.Status = types.StatusSyncing
	if err := s.store.SaveOperation(ctx, *op); err != nil {
		return false, fmt.Errorf("marking operation %s syncing: %w", op.ID, err)
	}
	s.notifyProgress(ctx)

	result, err := s.transport.Push(ctx, op)
	if errors.Is(err, transport.ErrUnreachable) {
		return true, nil
	}
	if err != nil {
		return false, s.scheduleRetry(ctx, op, err.Error())
	}

	switch result.Outcome {
	case transport.OutcomeApplied:
		op.Status = types.StatusSynced
		op.ServerVersion = result.ServerVersion
		op.NextAttemptAt = nil
		op.LastError = ""
		if err := s.store.SaveOperation(ctx, *op); err != nil {
			return false, fmt.Errorf("marking operation %s synced: %w", op.ID, err)
		}
		s.notifyProgress(ctx)

	case transport.OutcomeUnsupported:
		return false, s.skipUnsupported(ctx, op, fmt.Sprintf("status %d", result.StatusCode))

	case transport.OutcomeConflict:
		if err := s.handleConflict(ctx, op, result); err != nil {
			return false, err
		}

	case transport.OutcomeTransient:
		return false, s.scheduleRetry(ctx, op, fmt.Sprintf("transient status %d", result.StatusCode))

	default: // OutcomePermanent
		op.RetryCount = s.cfg.MaxRetries
		op.Status = types.StatusFailed
		op.NextAttemptAt = nil
		op.LastError = fmt.Sprintf("rejected with status %d: %s", result.StatusCode, result.Detail)
		s.logger.Warn("operation rejected by backend",
			"action", "sync",
			"operation_id", op.ID,
			"status", result.StatusCode)
		if err := s.store.SaveOperation(ctx, *op); err != nil {
			return false, fmt.Errorf("marking operation %s failed: %w", op.ID, err)
		}
		s.notifyProgress(ctx)
	}
	return false, nil
}

// skipUnsupported marks an operation the backend cannot accept as done.
// Not an error: some entity types only support a subset of operations.
func (s *Service) skipUnsupported(ctx context.Context, op *types.SyncOperation, reason string) error {
	op.Status = types.StatusSynced
	op.NextAttemptAt = nil
	op.LastError = ""
	s.logger.Debug("skipped unsupported operation",
		"action", "sync",
		"operation_id", op.ID,
		"entity_type", op.EntityType,
		"operation_type", op.OperationType,
		"reason", reason)
	if err := s.store.SaveOperation(ctx, *op); err != nil {
		return fmt.Errorf("marking operation %s skipped: %w", op.ID, err)
	}
	s.notifyProgress(ctx)
	return nil
}

// scheduleRetry increments the retry count and, while under the ceiling,
// schedules the next attempt with jittered exponential backoff. At the
// ceiling the operation stays failed rather than being dropped.
func (s *Service) scheduleRetry(ctx context.Context, op *types.SyncOperation, detail string) error {
	op.RetryCount++
	op.Status = types.StatusFailed
	op.LastError = detail
	if op.RetryCount < s.cfg.MaxRetries {
		next := s.clock.Now().UTC().Add(retryDelay(
			time.Duration(s.cfg.BaseRetryDelay),
			time.Duration(s.cfg.MaxRetryDelay),
			op.RetryCount))
		op.NextAttemptAt = &next
	} else {
		op.NextAttemptAt = nil
		s.logger.Warn("operation reached retry ceiling",
			"action", "sync",
			"operation_id", op.ID,
			"retries", op.RetryCount)
	}
	if err := s.store.SaveOperation(ctx, *op); err != nil {
		return fmt.Errorf("scheduling retry for %s: %w", op.ID, err)
	}
	s.notifyProgress(ctx)
	return nil
}

// handleConflict records a 409 and runs the resolver. Auto-resolutions are
// re-queued immediately; resolutions that need the user are persisted and
// surfaced through prompts.
func (s *Service) handleConflict(ctx context.Context, op *types.SyncOperation, result *transport.Result) error {
	conflict := types.SyncConflict{
		OperationID: op.ID,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		LocalData:   op.Payload,
		ServerData:  result.ServerData,
		DetectedAt:  s.clock.Now().UTC(),
	}
	resolution := s.registry.Resolve(conflict)

	if resolution.RequiresUserInput {
		conflict.Resolution = &resolution
		op.Status = types.StatusConflict
		op.ServerVersion = result.ServerVersion
		if err := s.store.SaveConflict(ctx, conflict); err != nil {
			return fmt.Errorf("persisting conflict for %s: %w", op.ID, err)
		}
		if err := s.store.SaveOperation(ctx, *op); err != nil {
			return fmt.Errorf("marking operation %s conflicted: %w", op.ID, err)
		}
		s.logger.Info("conflict needs user decision",
			"action", "sync",
			"operation_id", op.ID,
			"entity_type", op.EntityType)
		s.notifyProgress(ctx)
		return nil
	}

	s.logger.Info("conflict auto-resolved",
		"action", "sync",
		"operation_id", op.ID,
		"entity_type", op.EntityType,
		"strategy", resolution.Strategy)
	return s.requeueResolved(ctx, op, resolution.ResolvedData, result.ServerVersion)
}

// requeueResolved replaces the operation's payload with resolved data and
// puts it back in the queue as a fresh attempt. It is not retried within the
// current pass; the snapshot taken at pass start no longer matches.
func (s *Service) requeueResolved(ctx context.Context, op *types.SyncOperation, resolved json.RawMessage, serverVersion *int64) error {
	op.Payload = resolved
	op.Status = types.StatusPending
	op.RetryCount = 0
	op.NextAttemptAt = nil
	op.LastError = ""
	op.LocalVersion++
	if serverVersion != nil {
		op.ServerVersion = serverVersion
	}
	if err := s.store.SaveOperation(ctx, *op); err != nil {
		return fmt.Errorf("re-queueing operation %s: %w", op.ID, err)
	}
	s.notifyProgress(ctx)
	return nil
}

// ResolveConflict applies the user's decision on a surfaced conflict and
// returns the applied resolution so the UI can update its local copy. The
// conflict record is destroyed once resolved.
func (s *Service) ResolveConflict(ctx context.Context, operationID string, choice types.UserChoice, mergedData json.RawMessage) (*types.ConflictResolution, error) {
	conflict, err := s.store.GetConflict(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("loading conflict %s: %w", operationID, err)
	}
	op, err := s.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("loading operation %s: %w", operationID, err)
	}

	var resolution types.ConflictResolution
	switch choice {
	case types.ChoiceLocal:
		resolution = types.ConflictResolution{
			Strategy:        types.StrategyUserPrompt,
			ResolvedData:    conflict.LocalData,
			DiscardedFields: []string{"server"},
			Rationale:       "user kept the local version",
		}
		if err := s.requeueResolved(ctx, op, conflict.LocalData, nil); err != nil {
			return nil, err
		}

	case types.ChoiceServer:
		resolution = types.ConflictResolution{
			Strategy:        types.StrategyUserPrompt,
			ResolvedData:    conflict.ServerData,
			DiscardedFields: []string{"local"},
			Rationale:       "user kept the server version",
		}
		// Nothing to push; the backend already holds this version.
		op.Status = types.StatusSynced
		op.NextAttemptAt = nil
		op.LastError = ""
		if err := s.store.SaveOperation(ctx, *op); err != nil {
			return nil, fmt.Errorf("marking operation %s synced: %w", op.ID, err)
		}
		s.notifyProgress(ctx)

	case types.ChoiceMerge:
		resolved := mergedData
		if len(resolved) == 0 {
			auto := s.registry.Resolve(*conflict)
			resolved = auto.ResolvedData
		}
		resolution = types.ConflictResolution{
			Strategy:     types.StrategyMerge,
			ResolvedData: resolved,
			Rationale:    "user accepted a merged version",
		}
		if err := s.requeueResolved(ctx, op, resolved, nil); err != nil {
			return nil, err
		}

	case types.ChoiceKeepBoth:
		if conflict.EntityType != types.EntityJournal {
			return nil, ErrKeepBothUnsupported
		}
		resolution = types.ConflictResolution{
			Strategy:     types.StrategyKeepBoth,
			ResolvedData: conflict.LocalData,
			Rationale:    "user kept both versions as separate entries",
		}
		// Local version keeps its entity; the server version becomes a
		// new record so neither edit is lost.
		if err := s.requeueResolved(ctx, op, conflict.LocalData, nil); err != nil {
			return nil, err
		}
		duplicate := types.SyncOperation{
			ID:            ulid.Make().String(),
			EntityType:    conflict.EntityType,
			OperationType: types.OpCreate,
			EntityID:      uuid.NewString(),
			Payload:       conflict.ServerData,
			EnqueuedAt:    s.clock.Now().UTC(),
			Status:        types.StatusPending,
			LocalVersion:  1,
		}
		if err := s.store.SaveOperation(ctx, duplicate); err != nil {
			return nil, fmt.Errorf("queueing duplicate record: %w", err)
		}
		s.notifyProgress(ctx)

	default:
		return nil, fmt.Errorf("unknown choice %q", choice)
	}

	if err := s.store.DeleteConflict(ctx, operationID); err != nil {
		return nil, fmt.Errorf("removing conflict %s: %w", operationID, err)
	}
	s.logger.Info("conflict resolved by user",
		"action", "resolve",
		"operation_id", operationID,
		"choice", choice)

	if s.transport.Reachable(ctx) {
		if err := s.Sync(ctx); err != nil {
			s.logger.Warn("triggered sync pass failed", "action", "resolve", "error", err)
		}
	}
	return &resolution, nil
}

// Progress computes queue progress from durable state. Conflicted operations
// count as failed until the user decides; synced entries linger until pruned
// and count as completed.
func (s *Service) Progress(ctx context.Context) (types.SyncProgress, error) {
	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return types.SyncProgress{}, fmt.Errorf("listing operations: %w", err)
	}
	var p types.SyncProgress
	p.Total = len(ops)
	for _, op := range ops {
		switch op.Status {
		case types.StatusSynced:
			p.Completed++
		case types.StatusFailed, types.StatusConflict:
			p.Failed++
		default:
			p.InProgress++
		}
	}
	return p, nil
}

func (s *Service) notifyProgress(ctx context.Context) {
	progress, err := s.Progress(ctx)
	if err != nil {
		s.logger.Warn("computing progress failed", "error", err)
		return
	}
	s.mu.Lock()
	listeners := make([]ProgressListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(progress)
	}
}
