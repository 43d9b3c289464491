// Package editlock arbitrates exclusive editing of shared file attachments.
// At most one lock exists per resource; locks expire after a TTL so a crashed
// or vanished holder can never wedge a resource permanently.
package editlock

import (
	"log"
	"sync"
	"time"

	"teamchat/pkg/types"
)

// Lock is the record for one held resource.
type Lock struct {
	ResourceID string
	Holder     string
	AcquiredAt time.Time

	// Resource locator and fan-out context. The notification audience is
	// derived from channel/conversation membership, not from the lock.
	FileName       string
	Team           string
	Channel        string
	ConversationID string
}

// Request carries everything needed to create a lock and later notify its
// viewers.
type Request struct {
	ResourceID     string
	Holder         string
	FileName       string
	Team           string
	Channel        string
	ConversationID string
}

// Result reports a grant or a structured denial with current holder info.
type Result struct {
	Granted    bool
	Holder     string
	AcquiredAt time.Time
}

// Notifier receives every lock state change so observers' UI can follow:
// grants, explicit releases, TTL expiries and disconnect releases.
type Notifier func(lock *Lock, event string)

// Manager owns the lock table and the TTL sweep.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock

	ttl      time.Duration
	notifier Notifier

	sweepTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	now func() time.Time
}

// NewManager creates a lock manager sweeping expired locks every
// sweepInterval.
func NewManager(ttl, sweepInterval time.Duration) *Manager {
	m := &Manager{
		locks:       make(map[string]*Lock),
		ttl:         ttl,
		sweepTicker: time.NewTicker(sweepInterval),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// SetNotifier installs the fan-out callback. Must be called before traffic
// flows; the callback runs outside the manager's lock.
func (m *Manager) SetNotifier(fn Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = fn
}

// RequestLock grants the lock when the resource is free, refreshes
// acquired-at when the requester already holds it, and otherwise denies with
// the current holder so the UI can show "locked by X".
func (m *Manager) RequestLock(req *Request) Result {
	m.mu.Lock()

	existing, held := m.locks[req.ResourceID]
	if held && existing.Holder != req.Holder {
		res := Result{Granted: false, Holder: existing.Holder, AcquiredAt: existing.AcquiredAt}
		m.mu.Unlock()
		return res
	}

	if held {
		// Same holder re-request: refresh, so an active editor is never
		// swept out by its own idle timeout.
		existing.AcquiredAt = m.now()
		res := Result{Granted: true, Holder: existing.Holder, AcquiredAt: existing.AcquiredAt}
		m.mu.Unlock()
		return res
	}

	lock := &Lock{
		ResourceID:     req.ResourceID,
		Holder:         req.Holder,
		AcquiredAt:     m.now(),
		FileName:       req.FileName,
		Team:           req.Team,
		Channel:        req.Channel,
		ConversationID: req.ConversationID,
	}
	m.locks[req.ResourceID] = lock
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier(lock, types.LockEventGranted)
	}
	return Result{Granted: true, Holder: lock.Holder, AcquiredAt: lock.AcquiredAt}
}

// Release releases a lock held by holder. Releasing a missing or foreign
// lock reports failure without being an error.
func (m *Manager) Release(resourceID, holder string) bool {
	m.mu.Lock()

	lock, held := m.locks[resourceID]
	if !held || lock.Holder != holder {
		m.mu.Unlock()
		return false
	}

	delete(m.locks, resourceID)
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		notifier(lock, types.LockEventReleased)
	}
	return true
}

// ReleaseHeldBy force-releases every lock the holder currently owns. Called
// when the holder's last connection closes; TTL expiry remains the backstop
// for anything this path misses.
func (m *Manager) ReleaseHeldBy(holder string) []*Lock {
	m.mu.Lock()

	var released []*Lock
	for id, lock := range m.locks {
		if lock.Holder == holder {
			delete(m.locks, id)
			released = append(released, lock)
		}
	}
	notifier := m.notifier
	m.mu.Unlock()

	if notifier != nil {
		for _, lock := range released {
			notifier(lock, types.LockEventReleased)
		}
	}
	return released
}

// IsLocked reports the lock state of a resource.
func (m *Manager) IsLocked(resourceID string) types.LockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[resourceID]
	if !held {
		return types.LockStatus{ResourceID: resourceID, Locked: false}
	}
	return types.LockStatus{
		ResourceID: resourceID,
		Locked:     true,
		Holder:     lock.Holder,
		AcquiredAt: lock.AcquiredAt,
	}
}

// LockCount returns the number of held locks, for observability.
func (m *Manager) LockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Shutdown stops the sweep timer and waits for the loop to exit.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.sweepTicker.Stop()
	})
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.sweepTicker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep force-releases locks older than the TTL. Expiry triggers the same
// viewer notification as an explicit release so observers' UI unlocks.
func (m *Manager) sweep() {
	m.mu.Lock()

	now := m.now()
	var expired []*Lock
	for id, lock := range m.locks {
		if now.Sub(lock.AcquiredAt) > m.ttl {
			delete(m.locks, id)
			expired = append(expired, lock)
		}
	}
	notifier := m.notifier
	m.mu.Unlock()

	for _, lock := range expired {
		log.Printf("Edit lock expired: resource=%s holder=%s age=%v", lock.ResourceID, lock.Holder, now.Sub(lock.AcquiredAt))
		if notifier != nil {
			notifier(lock, types.LockEventExpired)
		}
	}
}
