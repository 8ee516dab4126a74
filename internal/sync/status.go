package sync

import (
	gosync "sync"
	"time"

	"github.com/Andival-Sei/pennora/backend/internal/models"
)

// State is the run state of the sync engine.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the process-wide sync and network status.
type Status struct {
	Online            bool               `json:"online"`
	State             State              `json:"state"`
	LastSyncResult    *models.SyncResult `json:"lastSyncResult,omitempty"`
	LastSyncTime      *time.Time         `json:"lastSyncTime,omitempty"`
	PendingOperations int                `json:"pendingOperations"`
}

// Syncing reports whether a run is in flight.
func (s Status) Syncing() bool {
	return s.State == StateSyncing
}

func (s Status) clone() Status {
	out := s
	if s.LastSyncResult != nil {
		out.LastSyncResult = s.LastSyncResult.Clone()
	}
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		out.LastSyncTime = &t
	}
	return out
}

// StatusReader is the read-only view handed to observers.
type StatusReader interface {
	// Snapshot returns a copy of the current status.
	Snapshot() Status

	// Subscribe returns a channel that receives the current status and
	// every later change. A slow subscriber only sees the latest value.
	// The returned func unsubscribes and closes the channel.
	Subscribe() (<-chan Status, func())
}

// StatusStore holds the shared status. Only the Engine and the network
// monitor write to it.
type StatusStore struct {
	mu     gosync.Mutex
	status Status
	subs   map[int]chan Status
	nextID int
}

var _ StatusReader = (*StatusStore)(nil)

// NewStatusStore creates a StatusStore. The runtime is assumed online
// until a probe says otherwise.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		status: Status{Online: true, State: StateIdle},
		subs:   make(map[int]chan Status),
	}
}

// Snapshot implements StatusReader.
func (s *StatusStore) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Subscribe implements StatusReader.
func (s *StatusStore) Subscribe() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Status, 1)
	ch <- s.status.clone()
	s.subs[id] = ch

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Update applies fn to the status and notifies subscribers.
func (s *StatusStore) Update(fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.publishLocked()
}

// SetOnline records connectivity and reports whether it changed.
func (s *StatusStore) SetOnline(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Online == online {
		return false
	}
	s.status.Online = online
	s.publishLocked()
	return true
}

// SetState records the run state.
func (s *StatusStore) SetState(state State) {
	s.Update(func(st *Status) { st.State = state })
}

// SetPending records the number of queued operations.
func (s *StatusStore) SetPending(n int) {
	s.Update(func(st *Status) { st.PendingOperations = n })
}

func (s *StatusStore) publishLocked() {
	for _, ch := range s.subs {
		snapshot := s.status.clone()
		select {
		case ch <- snapshot:
		default:
			// Drop the stale value so the newest one fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
