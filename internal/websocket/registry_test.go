package websocket

import (
	"testing"
	"time"

	"teamchat/pkg/types"
)

// newTestConnection builds an authenticated connection without a live socket.
// Safe for registry tests, which never write to the transport.
func newTestConnection(username string) *Connection {
	conn := NewConnection(nil, 1, time.Second)
	conn.Authenticate(&types.Identity{UserID: "u-" + username, Username: username, Role: types.RoleUser}, "tok")
	return conn
}

func TestRegistry_RegisterAssignsSessionID(t *testing.T) {
	registry := NewRegistry(5, nil)
	conn := newTestConnection("alice")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if conn.SessionID() == "" {
		t.Error("expected session id to be assigned")
	}
	if registry.CountFor("alice") != 1 {
		t.Errorf("expected 1 connection for alice, got %d", registry.CountFor("alice"))
	}
}

func TestRegistry_RejectsUnauthenticated(t *testing.T) {
	registry := NewRegistry(5, nil)

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}

	conn := NewConnection(nil, 1, time.Second)
	if err := registry.Register(conn); err != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRegistry_PerUserCapRejectsNewConnection(t *testing.T) {
	registry := NewRegistry(2, nil)

	first := newTestConnection("alice")
	second := newTestConnection("alice")
	third := newTestConnection("alice")

	if err := registry.Register(first); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := registry.Register(second); err != nil {
		t.Fatalf("second register failed: %v", err)
	}
	if err := registry.Register(third); err != ErrTooManyConnections {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}

	// The cap rejects the newcomer; existing connections are untouched.
	if registry.CountFor("alice") != 2 {
		t.Errorf("expected 2 live connections, got %d", registry.CountFor("alice"))
	}
	if third.SessionID() != "" && registry.Unregister(third) {
		t.Error("rejected connection must not be registered")
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry(5, nil)
	conn := newTestConnection("alice")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !registry.Unregister(conn) {
		t.Error("first unregister should report true")
	}
	if registry.Unregister(conn) {
		t.Error("second unregister should report false")
	}
	if registry.CountFor("alice") != 0 {
		t.Errorf("expected 0 connections, got %d", registry.CountFor("alice"))
	}
}

func TestRegistry_StatsTrackPeak(t *testing.T) {
	registry := NewRegistry(5, nil)

	a := newTestConnection("alice")
	b := newTestConnection("bob")
	c := newTestConnection("carol")

	for _, conn := range []*Connection{a, b, c} {
		if err := registry.Register(conn); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	registry.Unregister(b)

	current, total, peak := registry.Stats()
	if current != 2 {
		t.Errorf("expected current=2, got %d", current)
	}
	if total != 3 {
		t.Errorf("expected total=3, got %d", total)
	}
	if peak != 3 {
		t.Errorf("expected peak=3, got %d", peak)
	}
}

func TestRegistry_ConnectionsForUsers(t *testing.T) {
	registry := NewRegistry(5, nil)

	alice1 := newTestConnection("alice")
	alice2 := newTestConnection("alice")
	bob := newTestConnection("bob")
	carol := newTestConnection("carol")

	for _, conn := range []*Connection{alice1, alice2, bob, carol} {
		if err := registry.Register(conn); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	conns := registry.ConnectionsForUsers([]string{"alice", "bob", "ghost"})
	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}
	for _, conn := range conns {
		if conn.Username() == "carol" {
			t.Error("carol was not requested")
		}
	}
}
