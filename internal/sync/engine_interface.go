// Package sync drains the offline mutation queue against the remote store.
package sync

import (
	"context"
	"time"

	"github.com/Andival-Sei/pennora/backend/internal/models"
)

// Queue is the part of the queue manager the Engine drains.
// *queue.Manager implements it.
type Queue interface {
	GetAll(ctx context.Context) ([]models.QueueOperation, error)
	GetByTable(ctx context.Context, table models.Table) ([]models.QueueOperation, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	GetStatus(ctx context.Context) (models.QueueStatus, error)
	RecordSync(ctx context.Context, at time.Time) error
}

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// SyncAll drains the whole queue. A call while a run is in flight
	// returns the last completed result without waiting.
	SyncAll(ctx context.Context) (*models.SyncResult, error)

	// SyncTable drains the operations of one table.
	SyncTable(ctx context.Context, table models.Table) (*models.SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// IsSyncing reports whether a run is in flight.
	IsSyncing() bool

	// LastResult returns the result of the last completed run, or nil.
	LastResult() *models.SyncResult
}

// EventType names a sync lifecycle event.
type EventType string

const (
	EventStarted   EventType = "sync.started"
	EventCompleted EventType = "sync.completed"
	EventFailed    EventType = "sync.failed"
)

// Event is delivered to the EventHandler.
type Event struct {
	Type   EventType          `json:"type"`
	Table  models.Table       `json:"table,omitempty"`
	Result *models.SyncResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Time   time.Time          `json:"time"`
}

// EventHandler receives sync events. It is called synchronously and must
// not block.
type EventHandler func(Event)
