// Package ratelimit gates inbound message acceptance with a fixed-window
// counter per identity. Instances are explicitly constructed and owned by the
// caller; each carries its own cleanup timer and must be shut down.
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// Limiter tracks per-identity request counts over a fixed window.
type Limiter struct {
	mu       sync.Mutex
	trackers map[string]*tracker

	window      time.Duration
	maxRequests int

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// now is swappable for deterministic window tests.
	now func() time.Time
}

// tracker is the per-identity window state. Once blocked, it stays blocked
// until the window resets.
type tracker struct {
	count   int
	resetAt time.Time
	blocked bool
}

// NewLimiter creates a limiter allowing maxRequests per window. The cleanup
// loop runs every 2×window so a tracker is never evicted mid-block.
func NewLimiter(window time.Duration, maxRequests int) *Limiter {
	l := &Limiter{
		trackers:      make(map[string]*tracker),
		window:        window,
		maxRequests:   maxRequests,
		cleanupTicker: time.NewTicker(2 * window),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// IsAllowed reports whether the identity may send another message now.
// Exactly maxRequests calls per window return true; the call that overflows
// the window counts toward it but is denied, and every later call in the
// same window is denied without counting.
func (l *Limiter) IsAllowed(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	t, exists := l.trackers[identity]
	if !exists {
		t = &tracker{resetAt: now.Add(l.window)}
		l.trackers[identity] = t
	}

	if now.After(t.resetAt) {
		t.count = 0
		t.blocked = false
		t.resetAt = now.Add(l.window)
	}

	if t.blocked {
		return false
	}

	t.count++
	if t.count > l.maxRequests {
		t.blocked = true
		return false
	}
	return true
}

// IsBlocked reports whether the identity is currently blocked, without
// counting a request.
func (l *Limiter) IsBlocked(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, exists := l.trackers[identity]
	if !exists {
		return false
	}
	if l.now().After(t.resetAt) {
		return false
	}
	return t.blocked
}

// TrackerCount returns the number of live trackers, for observability.
func (l *Limiter) TrackerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trackers)
}

// Shutdown stops the cleanup timer and waits for the loop to exit. Safe to
// call more than once. Required for clean process exit and deterministic
// tests.
func (l *Limiter) Shutdown() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cleanupTicker.Stop()
	})
	l.wg.Wait()
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.cleanupTicker.C:
			evicted := l.cleanup()
			if evicted > 0 {
				log.Printf("Rate limiter cleanup: evicted=%d remaining=%d", evicted, l.TrackerCount())
			}
		case <-l.stopCh:
			return
		}
	}
}

// cleanup evicts trackers idle past resetAt + window. A blocked tracker's
// resetAt is always in the future until its window expires, so a tracker can
// never be evicted mid-block.
func (l *Limiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for identity, t := range l.trackers {
		if now.After(t.resetAt.Add(l.window)) {
			delete(l.trackers, identity)
			evicted++
		}
	}
	return evicted
}
