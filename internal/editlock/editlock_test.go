package editlock

import (
	"sync"
	"testing"
	"time"

	"teamchat/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(5*time.Minute, time.Minute)
	t.Cleanup(m.Shutdown)
	return m
}

func TestRequestLock_GrantDenyReleaseCycle(t *testing.T) {
	m := newTestManager(t)

	res := m.RequestLock(&Request{ResourceID: "m1", Holder: "alice", Channel: "c1"})
	if !res.Granted {
		t.Fatal("first request should be granted")
	}

	// Another identity is denied with current holder info.
	res = m.RequestLock(&Request{ResourceID: "m1", Holder: "bob"})
	if res.Granted {
		t.Fatal("second holder should be denied")
	}
	if res.Holder != "alice" {
		t.Errorf("denial should carry holder alice, got %q", res.Holder)
	}
	if res.AcquiredAt.IsZero() {
		t.Error("denial should carry acquired-at")
	}

	// Release by the holder, then the other identity succeeds.
	if !m.Release("m1", "alice") {
		t.Fatal("holder release should succeed")
	}
	res = m.RequestLock(&Request{ResourceID: "m1", Holder: "bob"})
	if !res.Granted {
		t.Fatal("request after release should be granted")
	}
}

func TestRequestLock_SameHolderRefreshes(t *testing.T) {
	m := newTestManager(t)

	first := m.RequestLock(&Request{ResourceID: "m1", Holder: "alice"})
	if !first.Granted {
		t.Fatal("grant expected")
	}

	// Refresh must move acquired-at forward, not fail.
	m.now = func() time.Time { return first.AcquiredAt.Add(2 * time.Minute) }
	second := m.RequestLock(&Request{ResourceID: "m1", Holder: "alice"})
	if !second.Granted {
		t.Fatal("same-holder re-request should always succeed")
	}
	if !second.AcquiredAt.After(first.AcquiredAt) {
		t.Error("refresh should reset acquired-at")
	}
	if m.LockCount() != 1 {
		t.Errorf("refresh must not create a second lock, have %d", m.LockCount())
	}
}

func TestRelease_OwnershipChecked(t *testing.T) {
	m := newTestManager(t)

	m.RequestLock(&Request{ResourceID: "m1", Holder: "alice"})

	if m.Release("m1", "bob") {
		t.Error("foreign release must report failure")
	}
	if m.Release("missing", "alice") {
		t.Error("releasing a non-existent lock must report failure")
	}
	if !m.IsLocked("m1").Locked {
		t.Error("failed releases must leave the lock in place")
	}
}

func TestSweep_ForceReleasesExpiredAndNotifies(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var events []string
	m.SetNotifier(func(lock *Lock, event string) {
		mu.Lock()
		events = append(events, lock.ResourceID+":"+event)
		mu.Unlock()
	})

	m.RequestLock(&Request{ResourceID: "old", Holder: "alice"})
	m.RequestLock(&Request{ResourceID: "fresh", Holder: "bob"})

	base := time.Now()
	m.mu.Lock()
	m.locks["old"].AcquiredAt = base.Add(-6 * time.Minute)
	m.mu.Unlock()

	m.sweep()

	if m.IsLocked("old").Locked {
		t.Error("expired lock should be force-released")
	}
	if !m.IsLocked("fresh").Locked {
		t.Error("unexpired lock should survive the sweep")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, e := range events {
		if e == "old:"+types.LockEventExpired {
			found = true
		}
	}
	if !found {
		t.Errorf("sweep should notify expiry, events: %v", events)
	}
}

func TestReleaseHeldBy_ReleasesAllHolderLocks(t *testing.T) {
	m := newTestManager(t)

	m.RequestLock(&Request{ResourceID: "a", Holder: "alice"})
	m.RequestLock(&Request{ResourceID: "b", Holder: "alice"})
	m.RequestLock(&Request{ResourceID: "c", Holder: "bob"})

	released := m.ReleaseHeldBy("alice")
	if len(released) != 2 {
		t.Fatalf("expected 2 released locks, got %d", len(released))
	}
	if !m.IsLocked("c").Locked {
		t.Error("other holders' locks must survive")
	}
}

func TestRequestLock_MutualExclusionUnderConcurrency(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	granted := make(chan string, 32)
	for i := 0; i < 32; i++ {
		holder := string(rune('a' + i%26))
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			if m.RequestLock(&Request{ResourceID: "shared", Holder: h}).Granted {
				granted <- h
			}
		}(holder + "-user")
	}
	wg.Wait()
	close(granted)

	holders := make(map[string]bool)
	for h := range granted {
		holders[h] = true
	}
	// Same-holder refreshes may grant repeatedly, but only one distinct
	// holder can ever win.
	if len(holders) != 1 {
		t.Errorf("expected exactly one distinct holder, got %d", len(holders))
	}
}
