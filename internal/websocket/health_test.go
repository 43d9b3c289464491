package websocket

import (
	"sync"
	"testing"
	"time"
)

func TestHealthMonitor_TerminatesSilentConnection(t *testing.T) {
	registry := NewRegistry(5, nil)

	// Responder's client runs a read loop, so pings are answered with pongs.
	responder, responderClient := newSocketPair(t, "alice")
	go func() {
		for {
			if _, _, err := responderClient.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Silent client never reads, so its pings are never answered.
	silent, _ := newSocketPair(t, "bob")

	for _, conn := range []*Connection{responder, silent} {
		if err := registry.Register(conn); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	monitor := NewHealthMonitor(registry, 40*time.Millisecond, 30*time.Millisecond, nil)

	var mu sync.Mutex
	terminated := make(map[string]string)
	monitor.terminate = func(conn *Connection, reason string) {
		mu.Lock()
		terminated[conn.Username()] = reason
		mu.Unlock()
		_ = conn.Close()
	}

	monitor.Attach(responder)
	monitor.Attach(silent)
	monitor.Start()
	defer monitor.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		_, gone := terminated["bob"]
		mu.Unlock()
		if gone {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, gone := terminated["bob"]; !gone {
		t.Fatal("silent connection was never terminated")
	}
	if reason, hit := terminated["alice"]; hit {
		t.Errorf("responsive connection terminated: %s", reason)
	}
}

func TestHealthMonitor_StartAndStopAreIdempotent(t *testing.T) {
	registry := NewRegistry(5, nil)
	monitor := NewHealthMonitor(registry, time.Minute, 10*time.Second, nil)

	monitor.Start()
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}

func TestHealthMonitor_AttachMarksAlive(t *testing.T) {
	registry := NewRegistry(5, nil)
	monitor := NewHealthMonitor(registry, time.Minute, 10*time.Second, nil)

	conn := NewConnection(nil, 1, time.Second)
	conn.beginProbe(time.Hour, func() {})
	if conn.IsAlive() {
		t.Fatal("probe should clear liveness")
	}

	monitor.Attach(conn)
	if !conn.IsAlive() {
		t.Error("attach should initialize liveness")
	}
}
