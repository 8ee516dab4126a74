// Package queue provides unit tests for the offline mutation queue.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andival-Sei/pennora/backend/internal/db"
	"github.com/Andival-Sei/pennora/backend/internal/models"
)

// fakeClock is a settable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *db.OperationStore) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	store := db.NewOperationStore(database)
	return NewManager(store, opts...), store
}

func strPtr(s string) *string { return &s }

// =====================================================
// Enqueue Tests
// =====================================================

// TestManagerEnqueue verifies the defaults of a new operation.
func TestManagerEnqueue(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.Enqueue(ctx, models.TableTransactions, models.OperationCreate, nil, models.Payload(`{"amount":5}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, id, op.ID)
	assert.Equal(t, models.TableTransactions, op.Table)
	assert.Equal(t, models.OperationCreate, op.Operation)
	assert.Nil(t, op.RecordID)
	assert.Zero(t, op.RetryCount)
	assert.Nil(t, op.LastError)
	assert.NotZero(t, op.CreatedAt)
}

// TestManagerEnqueue_noDedup verifies identical calls yield distinct records.
func TestManagerEnqueue_noDedup(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	payload := models.Payload(`{"name":"Groceries"}`)
	id1, err := m.Enqueue(ctx, models.TableCategories, models.OperationCreate, nil, payload)
	require.NoError(t, err)
	id2, err := m.Enqueue(ctx, models.TableCategories, models.OperationCreate, nil, payload)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

// TestManagerEnqueue_frozenClock verifies timestamps stay strictly
// increasing when the clock does not move.
func TestManagerEnqueue_frozenClock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, WithClock(clock.Now))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
		if i > 0 {
			assert.Greater(t, op.CreatedAt, ops[i-1].CreatedAt)
		}
	}
}

// =====================================================
// Ordering Tests
// =====================================================

// TestManagerGetAll_ordering verifies created_at ordering for shuffled
// insertion orders.
func TestManagerGetAll_ordering(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	stamps := []int64{7, 3, 9, 1, 5, 2, 8, 4, 6}
	rand.New(rand.NewSource(42)).Shuffle(len(stamps), func(i, j int) {
		stamps[i], stamps[j] = stamps[j], stamps[i]
	})
	for _, ts := range stamps {
		require.NoError(t, store.Add(ctx, &models.QueueOperation{
			ID: fmt.Sprintf("op-%d", ts), Table: models.TableAccounts,
			Operation: models.OperationCreate, CreatedAt: ts,
		}))
	}

	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, len(stamps))
	for i, op := range ops {
		assert.EqualValues(t, i+1, op.CreatedAt)
	}
}

// TestManagerGetByTable verifies the equality filter keeps FIFO order.
func TestManagerGetByTable(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	tx1, _ := m.Enqueue(ctx, models.TableTransactions, models.OperationCreate, nil, nil)
	_, _ = m.Enqueue(ctx, models.TableBudgets, models.OperationCreate, nil, nil)
	tx2, _ := m.Enqueue(ctx, models.TableTransactions, models.OperationDelete, strPtr("r1"), nil)

	ops, err := m.GetByTable(ctx, models.TableTransactions)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, tx1, ops[0].ID)
	assert.Equal(t, tx2, ops[1].ID)
}

// =====================================================
// GetNext / Retry Cap Tests
// =====================================================

// TestManagerGetNext_quarantine verifies records at the cap are skipped by
// GetNext but still counted and listed.
func TestManagerGetNext_quarantine(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	next, err := m.GetNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	poison, _ := m.Enqueue(ctx, models.TableAccounts, models.OperationUpdate, nil, nil)
	for i := 0; i < MaxRetries; i++ {
		require.NoError(t, m.MarkFailed(ctx, poison, "record_id is required for update operation"))
	}

	next, err = m.GetNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "quarantined record must not be returned")

	healthy, _ := m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
	next, err = m.GetNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, healthy, next.ID)

	all, err := m.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
}

// TestManagerMarkFailed verifies N failures yield retry_count N and the
// latest message.
func TestManagerMarkFailed(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	id, _ := m.Enqueue(ctx, models.TableGoals, models.OperationCreate, nil, nil)
	for i := 1; i <= 3; i++ {
		require.NoError(t, m.MarkFailed(ctx, id, fmt.Sprintf("attempt %d", i)))
	}

	op, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, 3, op.RetryCount)
	require.NotNil(t, op.LastError)
	assert.Equal(t, "attempt 3", *op.LastError)
}

// TestManagerMarkFailed_missing verifies a missing id is silently ignored.
func TestManagerMarkFailed_missing(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NoError(t, m.MarkFailed(context.Background(), "ghost", "boom"))
}

// =====================================================
// Remove / Status / Purge Tests
// =====================================================

// TestManagerRemove_idempotent verifies removing twice is a no-op.
func TestManagerRemove_idempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, _ := m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
	require.NoError(t, m.Remove(ctx, id))
	require.NoError(t, m.Remove(ctx, id))

	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// TestManagerGetStatus verifies pending + failed == total.
func TestManagerGetStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := m.Enqueue(ctx, models.TableTransactions, models.OperationCreate, nil, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, m.MarkFailed(ctx, ids[0], "x"))
	require.NoError(t, m.MarkFailed(ctx, ids[0], "x"))
	require.NoError(t, m.MarkFailed(ctx, ids[3], "y"))

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, status.Total)
	assert.Equal(t, 4, status.Pending)
	assert.Equal(t, 2, status.Failed)
	assert.Equal(t, status.Total, status.Pending+status.Failed)
	assert.Nil(t, status.LastSyncTime)

	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, m.RecordSync(ctx, at))
	status, err = m.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncTime)
	assert.True(t, status.LastSyncTime.Equal(at))
}

// TestManagerClearProcessed verifies only records older than the retention
// window are purged and the exact count is returned.
func TestManagerClearProcessed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
		require.NoError(t, err)
	}
	clock.Advance(6 * 24 * time.Hour)
	for i := 0; i < 2; i++ {
		_, err := m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
		require.NoError(t, err)
	}
	clock.Advance(2 * 24 * time.Hour)

	n, err := m.ClearProcessed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ops, err := m.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	n, err = m.ClearProcessed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestManagerClearAll verifies the queue is wiped.
func TestManagerClearAll(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, _ = m.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, nil)
	_, _ = m.Enqueue(ctx, models.TableBudgets, models.OperationCreate, nil, nil)
	require.NoError(t, m.ClearAll(ctx))

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Total)
}
