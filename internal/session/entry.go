package session

import (
	"sync"
	"sync/atomic"
	"time"

	"sessiongate.local/gateway/internal/adapter"
)

// entry pairs a tenant's record with its adapter handle.
type entry struct {
	tenantID string

	mu      sync.Mutex
	rec     Record
	client  adapter.Client
	closing bool
	// reachedReady survives status changes so a later disconnect can tell a
	// failed resume from an ordinary drop.
	reachedReady bool

	claimed      atomic.Bool
	credsDeleted atomic.Bool
	watchers     sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newEntry(tenantID string, now time.Time) *entry {
	return &entry{
		tenantID: tenantID,
		rec: Record{
			TenantID:        tenantID,
			Status:          StatusInitializing,
			LastActivity:    now,
			StatusChangedAt: now,
			CreatedAt:       now,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (e *entry) snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// touch refreshes lastActivity and returns the updated record.
func (e *entry) touch(now time.Time) Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closing {
		e.rec.LastActivity = now
	}
	return e.rec
}

func (e *entry) adapterClient() adapter.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// attach hands the client to the entry and registers its watcher. It reports
// false when the entry is already being torn down, in which case the caller
// still owns the client.
func (e *entry) attach(client adapter.Client, resumed bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.client = client
	e.rec.Resumed = resumed
	e.watchers.Add(1)
	return true
}

// claim makes the caller the only one allowed to release this entry.
func (e *entry) claim() bool {
	return e.claimed.CompareAndSwap(false, true)
}

func (e *entry) claimable() bool {
	return !e.claimed.Load()
}

func (e *entry) stopWatcher() {
	e.stopOnce.Do(func() { close(e.stop) })
}
