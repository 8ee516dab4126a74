// Package monitor tracks connectivity to the remote store and decides when
// the sync engine runs: on startup, on reconnect and on a periodic timer.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
)

// Syncer is the part of the sync engine the monitor drives.
type Syncer interface {
	SyncAll(ctx context.Context) (*models.SyncResult, error)
	IsSyncing() bool
}

// Prober reports whether the remote store is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Purger drops queue entries past their retention window.
type Purger interface {
	ClearProcessed(ctx context.Context) (int64, error)
}

// Config holds monitor configuration.
type Config struct {
	ProbeInterval time.Duration // How often connectivity is re-probed (default: 15 seconds)
	SyncInterval  time.Duration // How often to sync when online (default: 5 minutes)
	PurgeInterval time.Duration // How often expired operations are purged (default: 1 hour)
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 15 * time.Second,
		SyncInterval:  5 * time.Minute,
		PurgeInterval: time.Hour,
	}
}

// Monitor publishes connectivity to the status store and triggers syncs.
type Monitor struct {
	engine Syncer
	status *syncpkg.StatusStore
	prober Prober
	purger Purger
	config Config

	mu        sync.Mutex
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	isRunning bool
	stopped   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPurger enables the periodic purge of expired operations.
func WithPurger(p Purger) Option {
	return func(m *Monitor) {
		m.purger = p
	}
}

// New creates a Monitor. A nil prober means the runtime has no network to
// observe; Initialize is then a no-op.
func New(engine Syncer, status *syncpkg.StatusStore, prober Prober, config *Config, opts ...Option) *Monitor {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaults.PurgeInterval
	}

	m := &Monitor{
		engine:  engine,
		status:  status,
		prober:  prober,
		config:  cfg,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize probes connectivity, runs an initial sync when online and
// starts the background loops.
func (m *Monitor) Initialize(ctx context.Context) {
	if m.prober == nil {
		logging.Info("No connectivity prober configured, network monitor disabled")
		return
	}

	m.mu.Lock()
	if m.isRunning || m.stopped {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.baseCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.stopCh = make(chan struct{})
	runCtx := m.baseCtx
	m.mu.Unlock()

	online := m.prober.Probe(runCtx)
	if changed := m.status.SetOnline(online); changed {
		logging.Info("Online status changed", map[string]interface{}{"is_online": online})
	}
	if online {
		m.triggerSync("initial")
	}

	loops := 2
	if m.purger != nil {
		loops++
	}
	m.wg.Add(loops)
	go m.probeLoop(runCtx)
	go m.periodicSyncLoop(runCtx)
	if m.purger != nil {
		go m.purgeLoop(runCtx)
	}

	logging.Info("Network monitor started", map[string]interface{}{
		"online":         online,
		"probe_interval": m.config.ProbeInterval.String(),
		"sync_interval":  m.config.SyncInterval.String(),
	})
}

// Stop stops the loops and waits for triggered syncs to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	wasRunning := m.isRunning
	m.isRunning = false
	if wasRunning {
		close(m.stopCh)
	}
	m.mu.Unlock()

	m.wg.Wait()
	if m.cancel != nil {
		m.cancel()
	}

	if wasRunning {
		logging.Info("Network monitor stopped")
	}
}

// SetOnline records an observed connectivity change. Coming back online
// triggers a sync in the background.
func (m *Monitor) SetOnline(online bool) {
	if !m.status.SetOnline(online) {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": !online,
		"is_online":  online,
	})
	if online {
		m.triggerSync("reconnect")
	}
}

// IsOnline returns the last published connectivity.
func (m *Monitor) IsOnline() bool {
	return m.status.Snapshot().Online
}

// IsRunning returns whether the loops are running.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// triggerSync runs SyncAll on its own goroutine. Failures are logged.
func (m *Monitor) triggerSync(reason string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	base := m.baseCtx
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithCode("Triggered sync panicked", string(errors.ErrSyncFailed),
					fmt.Errorf("%v", r), map[string]interface{}{"reason": reason})
			}
		}()

		// Runs are not cancelable; Stop waits for them.
		result, err := m.engine.SyncAll(base)
		if err != nil {
			logging.ErrorWithCode("Triggered sync failed", string(errors.ErrSyncFailed), err,
				map[string]interface{}{"reason": reason})
			return
		}
		logging.Debug("Triggered sync finished", map[string]interface{}{
			"reason":  reason,
			"success": result.Success,
			"failed":  result.Failed,
		})
	}()
}

// probeLoop re-probes connectivity.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.prober.Probe(ctx))
		}
	}
}

// periodicSyncLoop runs periodic sync when online.
func (m *Monitor) periodicSyncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.IsOnline() {
				continue
			}
			if m.engine.IsSyncing() {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}
			m.triggerSync("periodic")
		}
	}
}

// purgeLoop drops operations past the retention window.
func (m *Monitor) purgeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.purger.ClearProcessed(ctx); err != nil {
				logging.Error("Failed to purge expired operations", err, nil)
			}
		}
	}
}
