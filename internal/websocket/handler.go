package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"teamchat/pkg/interfaces"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Dispatcher routes one decoded-or-raw inbound frame for a connection.
// Implemented by the message router; the boundary keeps this package free of
// handler logic.
type Dispatcher interface {
	Dispatch(conn *Connection, frame []byte)
}

// Handler owns the connection lifecycle: upgrade, authentication,
// registration, read loop, teardown.
type Handler struct {
	registry   *Registry
	verifier   interfaces.TokenVerifier
	dispatcher Dispatcher
	monitor    *HealthMonitor

	sendBufferSize int
	writeTimeout   time.Duration

	// OnConnect runs after successful registration. OnDisconnect runs once
	// per unregistered connection; lastConnection is true when it was the
	// user's final live connection.
	OnConnect    func(username string)
	OnDisconnect func(username string, lastConnection bool)
}

// NewHandler wires the connection lifecycle dependencies.
func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, dispatcher Dispatcher, monitor *HealthMonitor, sendBufferSize int, writeTimeout time.Duration) *Handler {
	return &Handler{
		registry:       registry,
		verifier:       verifier,
		dispatcher:     dispatcher,
		monitor:        monitor,
		sendBufferSize: sendBufferSize,
		writeTimeout:   writeTimeout,
	}
}

// HandleWebSocket upgrades the request and authenticates the connection from
// the bearer token query parameter. Policy failures close the socket with
// the documented close codes rather than HTTP errors, so clients always see
// a reason string.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, h.sendBufferSize, h.writeTimeout)

	token := r.URL.Query().Get("token")
	if token == "" {
		_ = conn.CloseWithCode(CloseCodeNormal, "authentication token required")
		return
	}

	identity, err := h.verifier.VerifyToken(token)
	if err != nil {
		_ = conn.CloseWithCode(CloseCodeUnauthorized, "unauthorized: invalid or expired token")
		return
	}

	conn.Authenticate(identity, token)

	if err := h.registry.Register(conn); err != nil {
		switch err {
		case ErrTooManyConnections:
			_ = conn.CloseWithCode(CloseCodeTooManyConns, "too many concurrent connections")
		default:
			log.Printf("Connection registration failed: user=%s err=%v", identity.Username, err)
			_ = conn.CloseWithCode(websocket.CloseInternalServerErr, "registration failed")
		}
		return
	}

	h.monitor.Attach(conn)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	if h.OnConnect != nil {
		h.OnConnect(identity.Username)
	}

	log.Printf("Connection registered: session=%s user=%s", conn.SessionID(), identity.Username)

	go h.readLoop(conn)
}

// readLoop processes inbound frames in arrival order. Dispatch is
// synchronous, so a connection's messages are never reordered; other
// connections have their own loops and are unaffected.
func (h *Handler) readLoop(conn *Connection) {
	defer h.teardown(conn)

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: session=%s err=%v", conn.SessionID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		conn.Touch()
		h.dispatcher.Dispatch(conn, data)
	}
}

// teardown unregisters exactly once and reports whether this was the user's
// last connection so presence and edit locks can react.
func (h *Handler) teardown(conn *Connection) {
	username := conn.Username()
	wasRegistered := h.registry.Unregister(conn)
	_ = conn.Close()

	if !wasRegistered || username == "" {
		return
	}

	last := h.registry.CountFor(username) == 0
	if h.OnDisconnect != nil {
		h.OnDisconnect(username, last)
	}

	log.Printf("Connection closed: session=%s user=%s last=%v", conn.SessionID(), username, last)
}
