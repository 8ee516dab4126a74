// Package queue provides the offline mutation queue: a typed API over the
// durable operation store.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/uuid"
)

const (
	// MaxRetries is the retry cap shared with the sync engine.
	MaxRetries = models.MaxRetries

	// Retention is how long an operation may stay queued before
	// ClearProcessed purges it.
	Retention = 7 * 24 * time.Hour
)

// Store is the durable backing of a Manager. *db.OperationStore
// implements it.
type Store interface {
	Add(ctx context.Context, op *models.QueueOperation) error
	Get(ctx context.Context, id string) (*models.QueueOperation, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, patch models.OperationPatch) (bool, error)
	List(ctx context.Context) ([]models.QueueOperation, error)
	ListByTable(ctx context.Context, table models.Table) ([]models.QueueOperation, error)
	Oldest(ctx context.Context, maxRetries int) (*models.QueueOperation, error)
	DeleteCreatedBefore(ctx context.Context, threshold int64) (int64, error)
	Clear(ctx context.Context) error
	Counts(ctx context.Context) (total, pending int, err error)
	LastSyncTime(ctx context.Context) (*time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// Manager is the queue API used by the mutation boundary and the sync
// engine. It is safe for concurrent use.
type Manager struct {
	store Store
	now   func() time.Time

	// mu serialises timestamp allocation and read-modify-write updates.
	mu            sync.Mutex
	lastCreatedAt int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// nextCreatedAt returns a timestamp strictly greater than any previously
// allocated one, so queue entries keep a total order. Callers hold mu.
func (m *Manager) nextCreatedAt() int64 {
	ts := m.now().UnixNano()
	if ts <= m.lastCreatedAt {
		ts = m.lastCreatedAt + 1
	}
	m.lastCreatedAt = ts
	return ts
}

// Enqueue records a pending write and returns its id. recordID must be nil
// for creates; that is checked at replay time, not here.
func (m *Manager) Enqueue(ctx context.Context, table models.Table, op models.OperationKind, recordID *string, data models.Payload) (string, error) {
	m.mu.Lock()
	item := &models.QueueOperation{
		ID:         uuid.New(),
		Table:      table,
		Operation:  op,
		RecordID:   recordID,
		Data:       data,
		CreatedAt:  m.nextCreatedAt(),
		RetryCount: 0,
	}
	m.mu.Unlock()

	if err := m.store.Add(ctx, item); err != nil {
		return "", err
	}

	logging.Info("Enqueued operation", map[string]interface{}{
		"operation_id": item.ID,
		"table":        string(table),
		"operation":    string(op),
	})
	return item.ID, nil
}

// GetAll returns every queued operation, oldest first.
func (m *Manager) GetAll(ctx context.Context) ([]models.QueueOperation, error) {
	return m.store.List(ctx)
}

// GetByTable returns the queued operations for table, oldest first.
func (m *Manager) GetByTable(ctx context.Context, table models.Table) ([]models.QueueOperation, error) {
	return m.store.ListByTable(ctx, table)
}

// GetNext returns the oldest operation still below the retry cap, or nil.
func (m *Manager) GetNext(ctx context.Context) (*models.QueueOperation, error) {
	return m.store.Oldest(ctx, MaxRetries)
}

// Remove deletes an operation. Removing a missing id is a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	logging.Debug("Removed operation", map[string]interface{}{"operation_id": id})
	return nil
}

// MarkFailed increments the retry count of an operation and records the
// failure message. A missing id is silently ignored.
func (m *Manager) MarkFailed(ctx context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if op == nil {
		logging.Debug("MarkFailed on missing operation", map[string]interface{}{"operation_id": id})
		return nil
	}

	retries := op.RetryCount + 1
	if _, err := m.store.Update(ctx, id, models.OperationPatch{
		RetryCount: &retries,
		LastError:  &message,
	}); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"operation_id": id,
		"retry_count":  retries,
		"max_retries":  MaxRetries,
		"error":        message,
	}
	if retries >= MaxRetries {
		logging.Warn("Operation quarantined after reaching retry cap", fields)
	} else {
		logging.Info("Operation failed, will retry on next sync", fields)
	}
	return nil
}

// GetStatus returns queue counters and the last sync time.
func (m *Manager) GetStatus(ctx context.Context) (models.QueueStatus, error) {
	total, pending, err := m.store.Counts(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}
	last, err := m.store.LastSyncTime(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}
	return models.QueueStatus{
		Total:        total,
		Pending:      pending,
		Failed:       total - pending,
		LastSyncTime: last,
	}, nil
}

// RecordSync stores the completion time of a sync run.
func (m *Manager) RecordSync(ctx context.Context, at time.Time) error {
	return m.store.SetLastSyncTime(ctx, at)
}

// ClearProcessed purges operations older than Retention and returns how
// many were deleted. It is the safety net for quarantined operations;
// successful replays are removed individually.
func (m *Manager) ClearProcessed(ctx context.Context) (int64, error) {
	threshold := m.now().Add(-Retention).UnixNano()
	n, err := m.store.DeleteCreatedBefore(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("clear processed: %w", err)
	}
	if n > 0 {
		logging.Info("Purged expired operations", map[string]interface{}{"count": n})
	}
	return n, nil
}

// ClearAll wipes the queue, e.g. on sign-out.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	logging.Info("Queue cleared")
	return nil
}
