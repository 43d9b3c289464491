package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teamchat/pkg/types"
)

// Connection wraps one live transport socket. All writes go through a single
// writer goroutine so concurrent handlers never race on the socket. The
// identity is immutable after authentication; the channel/conversation
// context is mutable and guarded.
type Connection struct {
	ws      *websocket.Conn
	writeCh chan []byte

	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	sessionID string // assigned by the registry
	identity  *types.Identity
	token     string // raw bearer token, re-verified per inbound frame

	// Liveness, owned by the health monitor.
	alive     bool
	pongTimer *time.Timer

	lastActivity time.Time

	// Current fan-out context. Joining a new channel overwrites it and the
	// prior channel's fan-out eligibility is lost immediately.
	team           *types.Team
	channel        *types.Channel
	conversationID string

	// Presence topics this connection subscribed to.
	presenceTopics map[string]struct{}
}

// NewConnection wraps an upgraded socket and starts its writer goroutine.
func NewConnection(ws *websocket.Conn, sendBufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ws:             ws,
		writeCh:        make(chan []byte, sendBufferSize),
		writeTimeout:   writeTimeout,
		ctx:            ctx,
		cancel:         cancel,
		alive:          true,
		lastActivity:   time.Now(),
		presenceTopics: make(map[string]struct{}),
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for delivery. Returns an error when the
// connection is closed or the send buffer stays full past the write timeout.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithCode sends a close control frame carrying the code and reason,
// then tears the connection down. Any pending probe timer is cancelled.
func (c *Connection) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.pongTimer != nil {
			c.pongTimer.Stop()
			c.pongTimer = nil
		}
		c.mu.Unlock()

		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)

		c.cancel()
		err = c.ws.Close()
	})
	return err
}

// Close tears the connection down with a normal closure code.
func (c *Connection) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Authenticate attaches the verified identity and the raw token. The
// identity is immutable afterwards.
func (c *Connection) Authenticate(identity *types.Identity, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		c.identity = identity
		c.token = token
	}
}

// Identity returns the authenticated principal, or nil before auth.
func (c *Connection) Identity() *types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Token returns the raw bearer token presented at upgrade.
func (c *Connection) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SessionID returns the registry-assigned session id.
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Username is a convenience accessor; empty before authentication.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.Username
}

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// LastActivity returns the last inbound activity timestamp.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// MarkAlive records a probe response and cancels the pending terminate
// timer, if any.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// IsAlive reports whether the connection answered the last probe.
func (c *Connection) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// beginProbe clears the liveness flag and arms the terminate timer fired if
// no pong arrives within timeout. Used only by the health monitor.
func (c *Connection) beginProbe(timeout time.Duration, onTimeout func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(timeout, onTimeout)
}

// Ping sends a probe control frame.
func (c *Connection) Ping(deadline time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}

// SetChannelContext records the channel the connection joined, replacing any
// previous channel context and clearing the conversation context.
func (c *Connection) SetChannelContext(team *types.Team, channel *types.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.team = team
	c.channel = channel
	c.conversationID = ""
}

// ChannelContext returns the current team/channel context; both nil when the
// connection has not joined a channel.
func (c *Connection) ChannelContext() (*types.Team, *types.Channel) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.team, c.channel
}

// SetConversation records the direct conversation the connection joined.
func (c *Connection) SetConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
}

// Conversation returns the current direct-conversation context, or "".
func (c *Connection) Conversation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}

// SubscribePresence adds usernames to the connection's presence topics.
func (c *Connection) SubscribePresence(usernames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range usernames {
		c.presenceTopics[u] = struct{}{}
	}
}

// SubscribedTo reports whether this connection watches the username's
// presence.
func (c *Connection) SubscribedTo(username string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.presenceTopics[username]
	return ok
}
