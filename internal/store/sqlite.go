package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hisr2024/mindvibe/internal/types"
	_ "modernc.org/sqlite"
)

// timeLayout is the canonical timestamp encoding for all persisted times.
// The fractional part is fixed-width (RFC3339Nano trims trailing zeros) so
// that lexicographic comparison in SQL matches chronological order; queue
// ordering and retention cutoffs rely on string comparison of this column.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the SQLite-backed implementation of Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Path returns the on-disk database path. Used by backup.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveOperation inserts or replaces a queued operation by ID.
func (s *SQLiteStore) SaveOperation(ctx context.Context, op types.SyncOperation) error {
	var serverVersion sql.NullInt64
	if op.ServerVersion != nil {
		serverVersion = sql.NullInt64{Int64: *op.ServerVersion, Valid: true}
	}
	var nextAttempt sql.NullString
	if op.NextAttemptAt != nil {
		nextAttempt = sql.NullString{String: op.NextAttemptAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_operations
			(id, entity_type, operation_type, entity_id, payload, status, retry_count,
			 local_version, server_version, enqueued_at, next_attempt_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			operation_type = excluded.operation_type,
			entity_id = excluded.entity_id,
			payload = excluded.payload,
			status = excluded.status,
			retry_count = excluded.retry_count,
			local_version = excluded.local_version,
			server_version = excluded.server_version,
			enqueued_at = excluded.enqueued_at,
			next_attempt_at = excluded.next_attempt_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, op.ID, op.EntityType, op.OperationType, op.EntityID, string(op.Payload), op.Status,
		op.RetryCount, op.LocalVersion, serverVersion,
		op.EnqueuedAt.UTC().Format(timeLayout), nextAttempt, op.LastError,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save operation: %w", err)
	}
	return nil
}

// GetOperation returns a single operation by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*types.SyncOperation, error) {
	row := s.db.QueryRowContext(ctx, selectOperations+" WHERE id = ?", id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns all operations ordered by enqueue time.
func (s *SQLiteStore) ListOperations(ctx context.Context) ([]types.SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx, selectOperations+" ORDER BY enqueued_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []types.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// FindLiveOperation returns the non-terminal operation for an entity, if any.
// Live means pending, syncing, or failed; synced and conflict rows do not
// participate in coalescing.
func (s *SQLiteStore) FindLiveOperation(ctx context.Context, entityType types.EntityType, entityID string) (*types.SyncOperation, error) {
	row := s.db.QueryRowContext(ctx, selectOperations+`
		WHERE entity_type = ? AND entity_id = ? AND status IN ('pending','syncing','failed')
		ORDER BY enqueued_at DESC LIMIT 1`, entityType, entityID)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find live operation: %w", err)
	}
	return op, nil
}

// DeleteOperation removes an operation by ID.
func (s *SQLiteStore) DeleteOperation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sync_operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	return nil
}

// PruneSynced removes synced operations enqueued before the cutoff and
// returns how many rows were removed.
func (s *SQLiteStore) PruneSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_operations WHERE status = 'synced' AND enqueued_at < ?",
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune synced: %w", err)
	}
	return res.RowsAffected()
}

const selectOperations = `
	SELECT id, entity_type, operation_type, entity_id, payload, status, retry_count,
	       local_version, server_version, enqueued_at, next_attempt_at, last_error
	FROM sync_operations`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*types.SyncOperation, error) {
	var (
		op            types.SyncOperation
		payload       sql.NullString
		serverVersion sql.NullInt64
		enqueuedAt    string
		nextAttempt   sql.NullString
	)
	err := row.Scan(&op.ID, &op.EntityType, &op.OperationType, &op.EntityID, &payload,
		&op.Status, &op.RetryCount, &op.LocalVersion, &serverVersion, &enqueuedAt,
		&nextAttempt, &op.LastError)
	if err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		op.Payload = json.RawMessage(payload.String)
	}
	if serverVersion.Valid {
		op.ServerVersion = &serverVersion.Int64
	}
	op.EnqueuedAt, err = time.Parse(timeLayout, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	if nextAttempt.Valid {
		t, err := time.Parse(timeLayout, nextAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("parse next_attempt_at: %w", err)
		}
		op.NextAttemptAt = &t
	}
	return &op, nil
}

// SaveConflict inserts or replaces a conflict record keyed by operation ID.
func (s *SQLiteStore) SaveConflict(ctx context.Context, conflict types.SyncConflict) error {
	var resolution sql.NullString
	if conflict.Resolution != nil {
		data, err := json.Marshal(conflict.Resolution)
		if err != nil {
			return fmt.Errorf("encode resolution: %w", err)
		}
		resolution = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts
			(operation_id, entity_type, entity_id, local_data, server_data, detected_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO UPDATE SET
			local_data = excluded.local_data,
			server_data = excluded.server_data,
			detected_at = excluded.detected_at,
			resolution = excluded.resolution
	`, conflict.OperationID, conflict.EntityType, conflict.EntityID,
		string(conflict.LocalData), string(conflict.ServerData),
		conflict.DetectedAt.UTC().Format(timeLayout), resolution)
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	return nil
}

// GetConflict returns a conflict by its operation ID.
func (s *SQLiteStore) GetConflict(ctx context.Context, operationID string) (*types.SyncConflict, error) {
	row := s.db.QueryRowContext(ctx, selectConflicts+" WHERE operation_id = ?", operationID)
	conflict, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	return conflict, nil
}

// ListConflicts returns all unresolved and resolved conflicts by detection order.
func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]types.SyncConflict, error) {
	rows, err := s.db.QueryContext(ctx, selectConflicts+" ORDER BY detected_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []types.SyncConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *conflict)
	}
	return conflicts, rows.Err()
}

// DeleteConflict removes a conflict once resolved.
func (s *SQLiteStore) DeleteConflict(ctx context.Context, operationID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sync_conflicts WHERE operation_id = ?", operationID)
	if err != nil {
		return fmt.Errorf("delete conflict: %w", err)
	}
	return nil
}

const selectConflicts = `
	SELECT operation_id, entity_type, entity_id, local_data, server_data, detected_at, resolution
	FROM sync_conflicts`

func scanConflict(row rowScanner) (*types.SyncConflict, error) {
	var (
		conflict   types.SyncConflict
		localData  string
		serverData string
		detectedAt string
		resolution sql.NullString
	)
	err := row.Scan(&conflict.OperationID, &conflict.EntityType, &conflict.EntityID,
		&localData, &serverData, &detectedAt, &resolution)
	if err != nil {
		return nil, err
	}
	conflict.LocalData = json.RawMessage(localData)
	conflict.ServerData = json.RawMessage(serverData)
	conflict.DetectedAt, err = time.Parse(timeLayout, detectedAt)
	if err != nil {
		return nil, fmt.Errorf("parse detected_at: %w", err)
	}
	if resolution.Valid {
		var res types.ConflictResolution
		if err := json.Unmarshal([]byte(resolution.String), &res); err != nil {
			return nil, fmt.Errorf("decode resolution: %w", err)
		}
		conflict.Resolution = &res
	}
	return &conflict, nil
}

// GetProfile returns the persisted behavioral profile, or ErrNotFound when
// none has been written yet. A row that fails to decode is treated as absent
// so a corrupt profile never crashes the engine.
func (s *SQLiteStore) GetProfile(ctx context.Context) (*types.InnerStateProfile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM inner_state_profile WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	var profile types.InnerStateProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		slog.Warn("discarding corrupt profile row",
			"component", "store",
			"action", "profile_reset",
			"error", err,
		)
		return nil, ErrNotFound
	}
	return &profile, nil
}

// SaveProfile rewrites the single profile row.
func (s *SQLiteStore) SaveProfile(ctx context.Context, profile types.InnerStateProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inner_state_profile (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, string(data), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetKV returns a single value from a partition.
func (s *SQLiteStore) GetKV(ctx context.Context, partition, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE partition = ? AND key = ?", partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// PutKV writes a value into a partition.
func (s *SQLiteStore) PutKV(ctx context.Context, partition, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (partition, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, partition, key, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("put kv: %w", err)
	}
	return nil
}

// ListKV returns all key/value pairs in a partition.
func (s *SQLiteStore) ListKV(ctx context.Context, partition string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM kv_entries WHERE partition = ?", partition)
	if err != nil {
		return nil, fmt.Errorf("list kv: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		entries[key] = value
	}
	return entries, rows.Err()
}

// DeleteKV removes a key from a partition.
func (s *SQLiteStore) DeleteKV(ctx context.Context, partition, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE partition = ? AND key = ?", partition, key)
	if err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}
