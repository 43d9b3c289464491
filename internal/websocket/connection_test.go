package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"teamchat/pkg/types"
)

// newSocketPair upgrades a real websocket and returns the server-side
// Connection plus the client socket. The server side runs a read loop so
// control frames (pongs) are processed.
func newSocketPair(t *testing.T, username string) (*Connection, *gws.Conn) {
	t.Helper()

	connCh := make(chan *Connection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection(ws, 16, time.Second)
		conn.Authenticate(&types.Identity{UserID: "u-" + username, Username: username, Role: types.RoleUser}, "tok")
		ws.SetPongHandler(func(string) error {
			conn.MarkAlive()
			return nil
		})
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()
		connCh <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, resp, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-connCh:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
		return nil, nil
	}
}

func TestConnection_WriteJSONAfterCloseFails(t *testing.T) {
	conn, _ := newSocketPair(t, "alice")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write on open connection failed: %v", err)
	}

	_ = conn.Close()
	if !conn.Closed() {
		t.Fatal("connection should report closed")
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseWithCodeReachesClient(t *testing.T) {
	conn, client := newSocketPair(t, "alice")

	_ = conn.CloseWithCode(CloseCodeTooManyConns, "too many concurrent connections")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	closeErr, ok := err.(*gws.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != CloseCodeTooManyConns {
		t.Errorf("expected code %d, got %d", CloseCodeTooManyConns, closeErr.Code)
	}
}

func TestConnection_AuthenticateIsImmutable(t *testing.T) {
	conn := NewConnection(nil, 1, time.Second)

	first := &types.Identity{UserID: "u-alice", Username: "alice", Role: types.RoleUser}
	conn.Authenticate(first, "tok-1")
	conn.Authenticate(&types.Identity{UserID: "u-mallory", Username: "mallory"}, "tok-2")

	if conn.Identity() != first {
		t.Error("identity was overwritten")
	}
	if conn.Token() != "tok-1" {
		t.Error("token was overwritten")
	}
}

func TestConnection_JoinChannelClearsConversation(t *testing.T) {
	conn := NewConnection(nil, 1, time.Second)

	conn.SetConversation("conv-1")
	if conn.Conversation() != "conv-1" {
		t.Fatal("conversation context not set")
	}

	team := &types.Team{ID: "team-1", Name: "acme"}
	channel := &types.Channel{ID: "chan-1", Name: "general"}
	conn.SetChannelContext(team, channel)

	gotTeam, gotChannel := conn.ChannelContext()
	if gotTeam != team || gotChannel != channel {
		t.Error("channel context not set")
	}
	if conn.Conversation() != "" {
		t.Error("joining a channel must clear the conversation context")
	}
}

func TestConnection_ProbeTimerFiresWithoutResponse(t *testing.T) {
	conn := NewConnection(nil, 1, time.Second)

	fired := make(chan struct{}, 1)
	conn.beginProbe(20*time.Millisecond, func() { fired <- struct{}{} })

	if conn.IsAlive() {
		t.Error("probe should clear liveness")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("probe timer never fired")
	}
}

func TestConnection_MarkAliveCancelsProbeTimer(t *testing.T) {
	conn := NewConnection(nil, 1, time.Second)

	fired := make(chan struct{}, 1)
	conn.beginProbe(50*time.Millisecond, func() { fired <- struct{}{} })
	conn.MarkAlive()

	if !conn.IsAlive() {
		t.Error("MarkAlive should restore liveness")
	}
	select {
	case <-fired:
		t.Error("cancelled probe timer fired anyway")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnection_SubscribePresence(t *testing.T) {
	conn := NewConnection(nil, 1, time.Second)

	conn.SubscribePresence([]string{"alice", "bob"})

	if !conn.SubscribedTo("alice") || !conn.SubscribedTo("bob") {
		t.Error("subscriptions not recorded")
	}
	if conn.SubscribedTo("carol") {
		t.Error("unexpected subscription")
	}
}
