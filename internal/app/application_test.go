package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"teamchat/internal/auth"
	"teamchat/internal/config"
	"teamchat/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func TestApplication_StartServeStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Files.Dir = filepath.Join(t.TempDir(), "files")
	cfg.Auth.JWTSecret = "test-secret"

	application, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("failed to build application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	}()

	base := fmt.Sprintf("127.0.0.1:%d", cfg.HTTP.Port)

	resp, err := http.Get("http://" + base + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	// A signed token gets a live websocket session; ping round-trips.
	issuer := auth.NewJWTVerifier(cfg.Auth.JWTSecret, time.Hour)
	token, err := issuer.Issue(&types.Identity{UserID: "u-1", Username: "alice", Role: types.RoleUser})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	ws, wsResp, err := gws.DefaultDialer.Dial("ws://"+base+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": types.MessageTypePing}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if frame["type"] != types.MessageTypePong {
		t.Errorf("expected pong, got %v", frame)
	}
}
