package websocket

import (
	"sync"

	"github.com/google/uuid"

	"teamchat/internal/observability"
)

// Registry is the single source of truth for live connections. It owns the
// session id assignment, the per-user connection index, the per-user
// concurrency cap, and the aggregate counters used for observability.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // sessionID -> Connection
	byUser      map[string]map[string]*Connection // username -> sessionID -> Connection

	maxPerUser int
	metrics    *observability.Metrics

	current   int
	totalEver int
	peak      int // high-water mark, never decremented
}

// NewRegistry creates a registry enforcing maxPerUser concurrent connections
// per identity. metrics may be nil.
func NewRegistry(maxPerUser int, metrics *observability.Metrics) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		maxPerUser:  maxPerUser,
		metrics:     metrics,
	}
}

// Register assigns the session id and adds the connection to the live set.
// A connection that would exceed the per-user cap is rejected, never
// displacing an older one.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	identity := conn.Identity()
	if identity == nil {
		return ErrNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userConns := r.byUser[identity.Username]
	if len(userConns) >= r.maxPerUser {
		return ErrTooManyConnections
	}

	sessionID := uuid.New().String()
	conn.setSessionID(sessionID)

	r.connections[sessionID] = conn
	if userConns == nil {
		userConns = make(map[string]*Connection)
		r.byUser[identity.Username] = userConns
	}
	userConns[sessionID] = conn

	r.current++
	r.totalEver++
	if r.current > r.peak {
		r.peak = r.current
	}
	r.metrics.ConnectionOpened(r.current, r.peak)

	return nil
}

// Unregister removes the connection. Idempotent: repeated calls for the same
// connection report false and change nothing.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}
	sessionID := conn.SessionID()
	if sessionID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[sessionID]
	if !exists || registered != conn {
		return false
	}

	delete(r.connections, sessionID)

	if identity := conn.Identity(); identity != nil {
		if userConns, ok := r.byUser[identity.Username]; ok {
			delete(userConns, sessionID)
			if len(userConns) == 0 {
				delete(r.byUser, identity.Username)
			}
		}
	}

	r.current--
	r.metrics.ConnectionClosed(r.current)

	return true
}

// ForEachOpen applies action to every open connection matching predicate.
// It iterates a snapshot, so connections closing mid-iteration are harmless.
// A nil predicate matches everything.
func (r *Registry) ForEachOpen(predicate func(*Connection) bool, action func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		if conn.Closed() {
			continue
		}
		if predicate == nil || predicate(conn) {
			action(conn)
		}
	}
}

// ConnectionsFor returns the live connections belonging to a username.
func (r *Registry) ConnectionsFor(username string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.byUser[username]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		out = append(out, conn)
	}
	return out
}

// ConnectionsForUsers returns live connections for a set of usernames, the
// common fan-out shape.
func (r *Registry) ConnectionsForUsers(usernames []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, username := range usernames {
		for _, conn := range r.byUser[username] {
			out = append(out, conn)
		}
	}
	return out
}

// CountFor returns the number of live connections for a username.
func (r *Registry) CountFor(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[username])
}

// Stats returns (current, total-ever, peak) connection counts.
func (r *Registry) Stats() (current, total, peak int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.totalEver, r.peak
}
