package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
)

const (
	// BatchSize is the number of operations dispatched concurrently.
	// Batches run one after another.
	BatchSize = 10

	// DefaultNoticeDuration is how long the success or error state stays
	// visible before reverting to idle.
	DefaultNoticeDuration = 3 * time.Second
)

// Engine replays queued operations against the remote store.
type Engine struct {
	queue          Queue
	remote         remote.Store
	status         *StatusStore
	invalidate     func()
	noticeDuration time.Duration
	now            func() time.Time

	// inFlight is the single-flight guard shared by SyncAll and SyncTable.
	inFlight atomic.Bool

	mu         gosync.Mutex
	lastResult *models.SyncResult
	handler    EventHandler
	resetTimer *time.Timer
}

var _ SyncEngineInterface = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithInvalidator sets the cache invalidation hook, called once after a
// run that replayed at least one operation.
func WithInvalidator(fn func()) Option {
	return func(e *Engine) {
		e.invalidate = fn
	}
}

// WithNoticeDuration overrides DefaultNoticeDuration. Zero or less keeps
// the final state until the next run.
func WithNoticeDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.noticeDuration = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new Engine. A nil status gets a fresh StatusStore.
func NewEngine(queue Queue, store remote.Store, status *StatusStore, opts ...Option) *Engine {
	if status == nil {
		status = NewStatusStore()
	}
	e := &Engine{
		queue:          queue,
		remote:         store,
		status:         status,
		noticeDuration: DefaultNoticeDuration,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns the read-only status view.
func (e *Engine) Status() StatusReader {
	return e.status
}

// SetEventHandler implements SyncEngineInterface.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// IsSyncing implements SyncEngineInterface.
func (e *Engine) IsSyncing() bool {
	return e.inFlight.Load()
}

// LastResult implements SyncEngineInterface.
func (e *Engine) LastResult() *models.SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return nil
	}
	return e.lastResult.Clone()
}

// Close stops the pending notice reset.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

// SyncAll implements SyncEngineInterface.
func (e *Engine) SyncAll(ctx context.Context) (*models.SyncResult, error) {
	return e.run(ctx, "", e.queue.GetAll)
}

// SyncTable implements SyncEngineInterface.
func (e *Engine) SyncTable(ctx context.Context, table models.Table) (*models.SyncResult, error) {
	return e.run(ctx, table, func(ctx context.Context) ([]models.QueueOperation, error) {
		return e.queue.GetByTable(ctx, table)
	})
}

func (e *Engine) run(ctx context.Context, table models.Table, load func(context.Context) ([]models.QueueOperation, error)) (*models.SyncResult, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress, returning last result", nil)
		if last := e.LastResult(); last != nil {
			return last, nil
		}
		return models.NewSyncResult(), nil
	}

	// Runs are not cancelable. A caller that goes away must not turn
	// in-flight replays into failures or leave batches unprocessed.
	ctx = context.WithoutCancel(ctx)
	defer func() {
		e.RefreshPending(ctx)
		e.inFlight.Store(false)
	}()

	snapshot, err := load(ctx)
	if err != nil {
		return e.fail(table, err)
	}
	ops := replayable(snapshot)
	if skipped := len(snapshot) - len(ops); skipped > 0 {
		logging.Debug("Skipping quarantined operations", map[string]interface{}{
			"count":       skipped,
			"max_retries": models.MaxRetries,
		})
	}
	if len(ops) == 0 {
		return models.NewSyncResult(), nil
	}

	e.cancelReset()
	e.status.SetState(StateSyncing)
	e.emit(Event{Type: EventStarted, Table: table, Time: e.now()})

	logging.Info("Sync started", map[string]interface{}{
		"operations": len(ops),
		"table":      string(table),
	})

	result := models.NewSyncResult()
	for start := 0; start < len(ops); start += BatchSize {
		end := min(start+BatchSize, len(ops))
		batch := ops[start:end]

		outcomes := e.dispatchBatch(ctx, batch)
		for i, op := range batch {
			e.record(ctx, result, op, outcomes[i])
		}
	}
	result.Total = result.Success + result.Failed

	if result.Success > 0 && e.invalidate != nil {
		e.callInvalidator()
	}

	completedAt := e.now()
	if err := e.queue.RecordSync(ctx, completedAt); err != nil {
		logging.Error("Failed to record sync time", err, nil)
	}
	e.finish(StateSuccess, result, &completedAt)
	e.emit(Event{Type: EventCompleted, Table: table, Result: result.Clone(), Time: completedAt})

	logging.Info("Sync completed", map[string]interface{}{
		"success": result.Success,
		"failed":  result.Failed,
		"total":   result.Total,
	})
	return result, nil
}

// fail handles a queue storage failure: the run is aborted and reported
// as one synthetic failure.
func (e *Engine) fail(table models.Table, err error) (*models.SyncResult, error) {
	msg := apperrors.Message(err)
	result := models.NewSyncResult()
	result.Failed = 1
	result.Total = 1
	result.Errors = append(result.Errors, models.SyncError{OperationID: "", Error: msg})

	logging.ErrorWithCode("Sync aborted: queue storage failure", string(apperrors.ErrQueueStorage), err, nil)
	e.finish(StateError, result, nil)
	e.emit(Event{Type: EventFailed, Table: table, Result: result.Clone(), Error: msg, Time: e.now()})
	return result, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read sync queue", err)
}

// replayable drops quarantined operations. They stay queued for
// diagnostics and purging.
func replayable(ops []models.QueueOperation) []models.QueueOperation {
	out := make([]models.QueueOperation, 0, len(ops))
	for _, op := range ops {
		if !op.Quarantined(models.MaxRetries) {
			out = append(out, op)
		}
	}
	return out
}

// dispatchBatch replays batch concurrently and returns the outcome of each
// operation by index.
func (e *Engine) dispatchBatch(ctx context.Context, batch []models.QueueOperation) []error {
	outcomes := make([]error, len(batch))
	var g errgroup.Group
	g.SetLimit(BatchSize)
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = e.dispatch(ctx, &batch[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// dispatch replays one operation. Panics in the remote store are turned
// into failures.
func (e *Engine) dispatch(ctx context.Context, op *models.QueueOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrSyncFailed, fmt.Sprintf("panic during %s on %s: %v", op.Operation, op.Table, r))
		}
	}()

	switch op.Operation {
	case models.OperationCreate:
		return e.remote.Insert(ctx, op.Table, op.Data)
	case models.OperationUpdate:
		if op.RecordID == nil {
			return apperrors.New(apperrors.ErrRecordIDRequired, "record_id is required for update operation")
		}
		return e.remote.Update(ctx, op.Table, *op.RecordID, op.Data)
	case models.OperationDelete:
		if op.RecordID == nil {
			return apperrors.New(apperrors.ErrRecordIDRequired, "record_id is required for delete operation")
		}
		return e.remote.Delete(ctx, op.Table, *op.RecordID)
	default:
		return apperrors.New(apperrors.ErrUnknownOperation, fmt.Sprintf("Unknown operation: %s", op.Operation))
	}
}

// record folds one outcome into result and updates the queue. Queue
// failures here are logged and do not change the counts.
func (e *Engine) record(ctx context.Context, result *models.SyncResult, op models.QueueOperation, outcome error) {
	if outcome == nil {
		result.Success++
		if err := e.queue.Remove(ctx, op.ID); err != nil {
			logging.Error("Failed to remove synced operation", err, map[string]interface{}{"operation_id": op.ID})
		}
		return
	}

	msg := apperrors.Message(outcome)
	result.Failed++
	result.Errors = append(result.Errors, models.SyncError{OperationID: op.ID, Error: msg})

	logging.Warn("Operation replay failed", map[string]interface{}{
		"operation_id": op.ID,
		"table":        string(op.Table),
		"operation":    string(op.Operation),
		"error":        msg,
	})
	if err := e.queue.MarkFailed(ctx, op.ID, msg); err != nil {
		logging.Error("Failed to mark operation as failed", err, map[string]interface{}{"operation_id": op.ID})
	}
}

func (e *Engine) callInvalidator() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Cache invalidator panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	e.invalidate()
}

// finish publishes the final state and schedules the reset to idle.
func (e *Engine) finish(state State, result *models.SyncResult, completedAt *time.Time) {
	e.mu.Lock()
	e.lastResult = result.Clone()
	e.mu.Unlock()

	e.status.Update(func(s *Status) {
		s.State = state
		s.LastSyncResult = result.Clone()
		if completedAt != nil {
			t := *completedAt
			s.LastSyncTime = &t
		}
	})
	e.scheduleReset()
}

func (e *Engine) scheduleReset() {
	if e.noticeDuration <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resetTimer != nil {
		e.resetTimer.Stop()
	}
	e.resetTimer = time.AfterFunc(e.noticeDuration, func() {
		e.status.Update(func(s *Status) {
			if s.State == StateSuccess || s.State == StateError {
				s.State = StateIdle
			}
		})
	})
}

func (e *Engine) cancelReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

// RefreshPending publishes the number of queued operations, quarantined
// ones included, into the status store.
func (e *Engine) RefreshPending(ctx context.Context) {
	status, err := e.queue.GetStatus(ctx)
	if err != nil {
		logging.Error("Failed to refresh pending operation count", err, nil)
		return
	}
	e.status.SetPending(status.Total)
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Sync event handler panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	handler(event)
}
