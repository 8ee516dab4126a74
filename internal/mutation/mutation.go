// Package mutation is the write path used by the UI: writes go straight to
// the remote store and fall back to the offline queue only when the store
// cannot be reached.
package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	"github.com/Andival-Sei/pennora/backend/internal/uuid"
)

// Enqueuer is the part of the queue manager the Mutator writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, table models.Table, op models.OperationKind, recordID *string, data models.Payload) (string, error)
}

// Outcome describes how a write was handled.
type Outcome struct {
	// RecordID is the id of the written record.
	RecordID string `json:"recordId,omitempty"`
	// Queued is true when the write was deferred to the offline queue.
	Queued bool `json:"queued"`
	// QueueID is the queue operation id when Queued is true.
	QueueID string `json:"queueId,omitempty"`
}

// Mutator performs writes with offline fallback.
type Mutator struct {
	remote remote.Store
	queue  Enqueuer
	// onWrite runs after every direct write that reached the remote store.
	onWrite func()
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithInvalidator sets the hook run after successful direct writes.
func WithInvalidator(fn func()) Option {
	return func(m *Mutator) {
		m.onWrite = fn
	}
}

// New creates a Mutator.
func New(store remote.Store, queue Enqueuer, opts ...Option) *Mutator {
	m := &Mutator{remote: store, queue: queue}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create writes a new record. A payload without an "id" gets a generated
// one so that a queued replay upserts the same row.
func (m *Mutator) Create(ctx context.Context, table models.Table, data models.Payload) (Outcome, error) {
	if err := remote.ValidateTable(table); err != nil {
		return Outcome{}, err
	}
	data, recordID, err := ensureID(data)
	if err != nil {
		return Outcome{}, err
	}

	err = m.remote.Insert(ctx, table, data)
	return m.settle(ctx, table, models.OperationCreate, recordID, nil, data, err)
}

// Update patches the record with recordID.
func (m *Mutator) Update(ctx context.Context, table models.Table, recordID string, data models.Payload) (Outcome, error) {
	if err := validate(table, recordID); err != nil {
		return Outcome{}, err
	}
	err := m.remote.Update(ctx, table, recordID, data)
	return m.settle(ctx, table, models.OperationUpdate, recordID, &recordID, data, err)
}

// Delete removes the record with recordID.
func (m *Mutator) Delete(ctx context.Context, table models.Table, recordID string) (Outcome, error) {
	if err := validate(table, recordID); err != nil {
		return Outcome{}, err
	}
	err := m.remote.Delete(ctx, table, recordID)
	return m.settle(ctx, table, models.OperationDelete, recordID, &recordID, nil, err)
}

// settle turns the result of a direct write into an Outcome, queueing the
// write when the failure was connectivity.
func (m *Mutator) settle(ctx context.Context, table models.Table, op models.OperationKind, recordID string, queuedRecordID *string, data models.Payload, err error) (Outcome, error) {
	if err == nil {
		if m.onWrite != nil {
			m.onWrite()
		}
		return Outcome{RecordID: recordID}, nil
	}
	if !remote.IsConnectivity(err) {
		return Outcome{}, err
	}

	queueID, qerr := m.queue.Enqueue(context.WithoutCancel(ctx), table, op, queuedRecordID, data)
	if qerr != nil {
		return Outcome{}, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to queue offline write", qerr)
	}

	logging.Info("Remote store unreachable, write queued", map[string]interface{}{
		"table":        string(table),
		"operation":    string(op),
		"operation_id": queueID,
	})
	return Outcome{RecordID: recordID, Queued: true, QueueID: queueID}, nil
}

func validate(table models.Table, recordID string) error {
	if err := remote.ValidateTable(table); err != nil {
		return err
	}
	if recordID == "" {
		return apperrors.New(apperrors.ErrRecordIDRequired, "record id is required")
	}
	return nil
}

// ensureID returns data with a string "id" field, adding one when absent.
func ensureID(data models.Payload) (models.Payload, string, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, "", apperrors.Wrap(apperrors.ErrValidation, "payload must be a JSON object", err)
		}
	}
	if fields == nil {
		// The payload was JSON null.
		fields = map[string]json.RawMessage{}
	}

	if raw, ok := fields["id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil || id == "" {
			return nil, "", apperrors.New(apperrors.ErrValidation, fmt.Sprintf("id must be a non-empty string, got %s", raw))
		}
		return data, id, nil
	}

	id := uuid.NewOrdered()
	encoded, _ := json.Marshal(id)
	fields["id"] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrValidation, "failed to encode payload", err)
	}
	return models.Payload(out), id, nil
}
