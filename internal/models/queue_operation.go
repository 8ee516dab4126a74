// Package models provides data model definitions for the Pennora sync backend.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Table names a logical entity collection on the remote store.
type Table string

const (
	TableAccounts     Table = "accounts"
	TableCategories   Table = "categories"
	TableTransactions Table = "transactions"
	TableBudgets      Table = "budgets"
	TableGoals        Table = "goals"
	TableProfiles     Table = "profiles"
)

// KnownTables lists every table the client may write to.
var KnownTables = []Table{
	TableAccounts,
	TableCategories,
	TableTransactions,
	TableBudgets,
	TableGoals,
	TableProfiles,
}

// IsKnown reports whether t is one of KnownTables.
func (t Table) IsKnown() bool {
	for _, known := range KnownTables {
		if t == known {
			return true
		}
	}
	return false
}

// OperationKind is the kind of write a queued operation replays.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Payload is an opaque JSON write body. It is stored as TEXT.
type Payload json.RawMessage

// Value implements driver.Valuer for Payload.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner for Payload.
func (p *Payload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("payload: unsupported scan type %T", value)
	}
	return nil
}

// MarshalJSON emits the payload verbatim, or null when empty.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(p).MarshalJSON()
}

// UnmarshalJSON stores a copy of data.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Fields decodes the payload as a JSON object. An empty payload yields
// an empty map.
func (p Payload) Fields() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(p) == 0 || string(p) == "null" {
		return fields, nil
	}
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return fields, nil
}

// QueueOperation is one pending write waiting to be replayed.
type QueueOperation struct {
	ID         string        `db:"id" json:"id"`
	Table      Table         `db:"table_name" json:"table"`
	Operation  OperationKind `db:"operation" json:"operation"`
	RecordID   *string       `db:"record_id" json:"record_id"` // nil for create
	Data       Payload       `db:"data" json:"data"`
	CreatedAt  int64         `db:"created_at" json:"created_at"` // unix nanoseconds
	RetryCount int           `db:"retry_count" json:"retry_count"`
	LastError  *string       `db:"last_error" json:"last_error"`
}

// TableName returns the table name for QueueOperation.
func (QueueOperation) TableName() string {
	return "sync_queue"
}

// MaxRetries is the retry cap. Operations that failed this many times are
// quarantined: kept for diagnostics but never replayed again.
const MaxRetries = 5

// Quarantined reports whether the operation reached the retry cap.
func (op QueueOperation) Quarantined(maxRetries int) bool {
	return op.RetryCount >= maxRetries
}

// OperationPatch is a partial update of a queued operation. Nil fields are
// left unchanged.
type OperationPatch struct {
	RetryCount *int
	LastError  *string
}

// IsEmpty reports whether the patch changes nothing.
func (p OperationPatch) IsEmpty() bool {
	return p.RetryCount == nil && p.LastError == nil
}
