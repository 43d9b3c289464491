// Package presence caches online/away/busy/offline status per username,
// driven by live connection counts plus explicit user overrides. Transitions
// are pushed to team co-members through an injected notify callback so the
// store stays decoupled from the connection registry.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"teamchat/pkg/types"
)

// NotifyFunc receives every committed status change for fan-out.
type NotifyFunc func(record *types.PresenceRecord)

// TeamDirectory is the slice of the persistence collaborator the presence
// store needs: team membership lookups for subscriber sets.
type TeamDirectory interface {
	MembersOf(ctx context.Context, teamName string) ([]string, error)
}

// record is the per-username mutable state. graceTimer is armed when the
// connection count reaches zero and cancelled by a reconnect.
type record struct {
	status      string
	lastSeen    time.Time
	connections int
	override    bool
	graceTimer  *time.Timer
}

// Store is the presence cache.
type Store struct {
	mu      sync.Mutex
	records map[string]*record

	directory TeamDirectory
	notify    NotifyFunc

	offlineGrace time.Duration

	reconcileTicker *time.Ticker
	stopCh          chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// NewStore creates a presence store. notify may be nil until SetNotify is
// called during wiring.
func NewStore(directory TeamDirectory, offlineGrace, reconcileInterval time.Duration) *Store {
	s := &Store{
		records:         make(map[string]*record),
		directory:       directory,
		offlineGrace:    offlineGrace,
		reconcileTicker: time.NewTicker(reconcileInterval),
		stopCh:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.reconcileLoop()

	return s
}

// SetNotify installs the broadcast callback; it runs outside the store lock.
func (s *Store) SetNotify(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// OnConnect increments the connection count. The 0→1 transition flips the
// user online and broadcasts; further connections change nothing visible.
func (s *Store) OnConnect(username string) {
	s.mu.Lock()

	rec, exists := s.records[username]
	if !exists {
		rec = &record{status: types.StatusOffline}
		s.records[username] = rec
	}

	if rec.graceTimer != nil {
		// Reconnect inside the grace window: no offline flicker.
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}

	rec.connections++
	rec.lastSeen = time.Now()

	// A reconnect absorbed by the grace window leaves the status online the
	// whole time; observers never saw a change, so nothing is broadcast.
	var changed *types.PresenceRecord
	if rec.connections == 1 && !rec.override && rec.status != types.StatusOnline {
		rec.status = types.StatusOnline
		changed = snapshotLocked(username, rec)
	}
	notify := s.notify
	s.mu.Unlock()

	if changed != nil && notify != nil {
		notify(changed)
	}
}

// OnDisconnect decrements the connection count. When it reaches zero the
// offline transition is delayed by the grace period and committed only if no
// reconnect happened in the meantime.
func (s *Store) OnDisconnect(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[username]
	if !exists {
		return
	}

	rec.connections--
	if rec.connections < 0 {
		rec.connections = 0
	}
	rec.lastSeen = time.Now()

	if rec.connections > 0 || rec.graceTimer != nil {
		return
	}

	rec.graceTimer = time.AfterFunc(s.offlineGrace, func() {
		s.commitOffline(username)
	})
}

// commitOffline flips a user offline after the grace period, unless a
// reconnect raced the timer.
func (s *Store) commitOffline(username string) {
	s.mu.Lock()

	rec, exists := s.records[username]
	if !exists {
		s.mu.Unlock()
		return
	}
	rec.graceTimer = nil

	if rec.connections > 0 {
		s.mu.Unlock()
		return
	}

	rec.status = types.StatusOffline
	rec.override = false
	rec.lastSeen = time.Now()
	changed := snapshotLocked(username, rec)
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(changed)
	}
}

// SetStatus applies an explicit user-set status. Away and busy persist as
// overrides until the connection count returns to zero or the user sets a
// new status; online clears the override.
func (s *Store) SetStatus(username, status string) error {
	if !types.IsValidPresenceStatus(status) {
		return types.ErrInvalidStatus
	}

	s.mu.Lock()
	rec, exists := s.records[username]
	if !exists {
		rec = &record{}
		s.records[username] = rec
	}

	rec.status = status
	rec.override = status == types.StatusAway || status == types.StatusBusy
	rec.lastSeen = time.Now()
	changed := snapshotLocked(username, rec)
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(changed)
	}
	return nil
}

// StatusOf returns presence records for the requested usernames. Unknown
// users report offline.
func (s *Store) StatusOf(usernames []string) []*types.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.PresenceRecord, 0, len(usernames))
	for _, username := range usernames {
		if rec, exists := s.records[username]; exists {
			out = append(out, snapshotLocked(username, rec))
		} else {
			out = append(out, &types.PresenceRecord{Username: username, Status: types.StatusOffline})
		}
	}
	return out
}

// SubscribersOf returns the usernames entitled to presence updates about the
// named team: its members.
func (s *Store) SubscribersOf(ctx context.Context, teamName string) ([]string, error) {
	return s.directory.MembersOf(ctx, teamName)
}

// OnlineCount returns the number of users currently not offline, for
// observability.
func (s *Store) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.status != types.StatusOffline {
			n++
		}
	}
	return n
}

// Shutdown stops the reconciliation timer and any pending grace timers.
func (s *Store) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.reconcileTicker.Stop()
	})
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.graceTimer != nil {
			rec.graceTimer.Stop()
			rec.graceTimer = nil
		}
	}
}

func (s *Store) reconcileLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.reconcileTicker.C:
			s.Reconcile()
		case <-s.stopCh:
			return
		}
	}
}

// Reconcile corrects records showing a live status with zero connections and
// no pending grace transition: a defensive check against missed decrements.
func (s *Store) Reconcile() {
	s.mu.Lock()

	var fixed []*types.PresenceRecord
	for username, rec := range s.records {
		if rec.status != types.StatusOffline && rec.connections == 0 && rec.graceTimer == nil {
			rec.status = types.StatusOffline
			rec.override = false
			rec.lastSeen = time.Now()
			fixed = append(fixed, snapshotLocked(username, rec))
		}
	}
	notify := s.notify
	s.mu.Unlock()

	for _, changed := range fixed {
		log.Printf("Presence reconciliation: user=%s forced offline", changed.Username)
		if notify != nil {
			notify(changed)
		}
	}
}

func snapshotLocked(username string, rec *record) *types.PresenceRecord {
	return &types.PresenceRecord{
		Username:    username,
		Status:      rec.status,
		LastSeen:    rec.lastSeen,
		Connections: rec.connections,
	}
}
