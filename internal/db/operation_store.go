package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Andival-Sei/pennora/backend/internal/models"
)

const operationColumns = `id, table_name, operation, record_id, data, created_at, retry_count, last_error`

const lastSyncKey = "last_sync_time"

// OperationStore persists queue operations in the sync_queue table.
// Each Add produces a distinct row; payloads are never deduplicated.
type OperationStore struct {
	db *sqlx.DB
}

// NewOperationStore creates an OperationStore over an opened, migrated DB.
func NewOperationStore(db *DB) *OperationStore {
	return &OperationStore{db: db.DB}
}

// Add inserts op.
func (s *OperationStore) Add(ctx context.Context, op *models.QueueOperation) error {
	query := `INSERT INTO sync_queue (` + operationColumns + `)
		VALUES (:id, :table_name, :operation, :record_id, :data, :created_at, :retry_count, :last_error)`
	if _, err := s.db.NamedExecContext(ctx, query, op); err != nil {
		return fmt.Errorf("failed to insert queue operation %s: %w", op.ID, err)
	}
	return nil
}

// Get returns the operation with id, or nil when it does not exist.
func (s *OperationStore) Get(ctx context.Context, id string) (*models.QueueOperation, error) {
	var op models.QueueOperation
	err := s.db.GetContext(ctx, &op, `SELECT `+operationColumns+` FROM sync_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue operation %s: %w", id, err)
	}
	return &op, nil
}

// Delete removes the operation with id. Deleting a missing id is not an error.
func (s *OperationStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue operation %s: %w", id, err)
	}
	return nil
}

// Update applies a partial update to the operation with id and reports
// whether a row was changed.
func (s *OperationStore) Update(ctx context.Context, id string, patch models.OperationPatch) (bool, error) {
	if patch.IsEmpty() {
		return false, nil
	}

	var (
		sets []string
		args []interface{}
	)
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	args = append(args, id)

	query := `UPDATE sync_queue SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update queue operation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// List returns every operation ordered by created_at, then id.
func (s *OperationStore) List(ctx context.Context) ([]models.QueueOperation, error) {
	ops := []models.QueueOperation{}
	query := `SELECT ` + operationColumns + ` FROM sync_queue ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &ops, query); err != nil {
		return nil, fmt.Errorf("failed to list queue operations: %w", err)
	}
	return ops, nil
}

// ListByTable returns the operations for table ordered by created_at.
func (s *OperationStore) ListByTable(ctx context.Context, table models.Table) ([]models.QueueOperation, error) {
	ops := []models.QueueOperation{}
	query := `SELECT ` + operationColumns + ` FROM sync_queue WHERE table_name = ? ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &ops, query, table); err != nil {
		return nil, fmt.Errorf("failed to list queue operations for %s: %w", table, err)
	}
	return ops, nil
}

// Oldest returns the oldest operation whose retry_count is below
// maxRetries, or nil when there is none.
func (s *OperationStore) Oldest(ctx context.Context, maxRetries int) (*models.QueueOperation, error) {
	var op models.QueueOperation
	query := `SELECT ` + operationColumns + ` FROM sync_queue
		WHERE retry_count < ? ORDER BY created_at ASC, id ASC LIMIT 1`
	err := s.db.GetContext(ctx, &op, query, maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next queue operation: %w", err)
	}
	return &op, nil
}

// DeleteCreatedBefore deletes operations with created_at strictly below
// threshold (unix nanoseconds) and returns how many were deleted.
func (s *OperationStore) DeleteCreatedBefore(ctx context.Context, threshold int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Clear deletes every operation.
func (s *OperationStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Counts returns the total number of operations and how many have never
// failed.
func (s *OperationStore) Counts(ctx context.Context) (total, pending int, err error) {
	row := s.db.QueryRowxContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN retry_count = 0 THEN 1 ELSE 0 END), 0)
		FROM sync_queue`)
	if err := row.Scan(&total, &pending); err != nil {
		return 0, 0, fmt.Errorf("failed to count queue operations: %w", err)
	}
	return total, pending, nil
}

// LastSyncTime returns the time of the last completed sync run, or nil.
func (s *OperationStore) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt last sync time %q: %w", value, err)
	}
	t := time.Unix(0, nanos)
	return &t, nil
}

// SetLastSyncTime records the time of a completed sync run.
func (s *OperationStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastSyncKey, strconv.FormatInt(t.UnixNano(), 10), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record last sync time: %w", err)
	}
	return nil
}
