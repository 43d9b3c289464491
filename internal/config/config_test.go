package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultConfig_ValidExceptSecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults must not validate without a jwt secret")
	}

	cfg.Auth.JWTSecret = "test-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with secret should validate: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"huge port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"pong >= ping", func(c *Config) { c.WebSocket.PongTimeout = c.WebSocket.PingInterval }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero send buffer", func(c *Config) { c.WebSocket.SendBufferSize = 0 }},
		{"zero conns per user", func(c *Config) { c.WebSocket.MaxConnsPerUser = 0 }},
		{"zero rate window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"zero rate max", func(c *Config) { c.RateLimit.MaxRequests = 0 }},
		{"zero offline grace", func(c *Config) { c.Presence.OfflineGrace = 0 }},
		{"zero lock ttl", func(c *Config) { c.EditLock.TTL = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty files dir", func(c *Config) { c.Files.Dir = "" }},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromEnv_Overlays(t *testing.T) {
	t.Setenv("TEAMCHAT_HTTP_PORT", "9191")
	t.Setenv("TEAMCHAT_JWT_SECRET", "env-secret")
	t.Setenv("TEAMCHAT_WS_PING_INTERVAL", "45s")
	t.Setenv("TEAMCHAT_RATE_LIMIT_MAX_REQUESTS", "250")
	t.Setenv("TEAMCHAT_PRESENCE_OFFLINE_GRACE", "8s")

	cfg := LoadFromEnv()

	if cfg.HTTP.Port != 9191 {
		t.Errorf("port not overlaid: %d", cfg.HTTP.Port)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Error("secret not overlaid")
	}
	if cfg.WebSocket.PingInterval != 45*time.Second {
		t.Errorf("ping interval not overlaid: %v", cfg.WebSocket.PingInterval)
	}
	if cfg.RateLimit.MaxRequests != 250 {
		t.Errorf("rate limit not overlaid: %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.Presence.OfflineGrace != 8*time.Second {
		t.Errorf("offline grace not overlaid: %v", cfg.Presence.OfflineGrace)
	}
	// Untouched values keep defaults.
	if cfg.EditLock.TTL != 5*time.Minute {
		t.Errorf("lock ttl changed unexpectedly: %v", cfg.EditLock.TTL)
	}
}

func TestLoadFromEnv_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("TEAMCHAT_HTTP_PORT", "not-a-number")
	t.Setenv("TEAMCHAT_WS_PING_INTERVAL", "sometime")

	cfg := LoadFromEnv()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("invalid port should keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("invalid duration should keep default, got %v", cfg.WebSocket.PingInterval)
	}
}

func TestLoadFromFile_OverlaysAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: 9000
  read_timeout: 15s
websocket:
  ping_interval: 20s
  pong_timeout: 5s
presence:
  offline_grace: 10s
edit_lock:
  ttl: 10m
auth:
  jwt_secret: file-secret
  token_ttl: 12h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTP.Port != 9000 || cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("http section not overlaid: %+v", cfg.HTTP)
	}
	if cfg.WebSocket.PingInterval != 20*time.Second || cfg.WebSocket.PongTimeout != 5*time.Second {
		t.Errorf("websocket section not overlaid: %+v", cfg.WebSocket)
	}
	if cfg.Presence.OfflineGrace != 10*time.Second {
		t.Errorf("presence section not overlaid: %+v", cfg.Presence)
	}
	if cfg.EditLock.TTL != 10*time.Minute {
		t.Errorf("edit lock section not overlaid: %+v", cfg.EditLock)
	}
	if cfg.Auth.JWTSecret != "file-secret" || cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("auth section not overlaid: %+v", cfg.Auth)
	}
	// Sections missing from the file keep defaults.
	if cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("rate limit default lost: %d", cfg.RateLimit.MaxRequests)
	}
}

func TestLoadFromFile_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// pong_timeout >= ping_interval fails validation.
	content := `
websocket:
  ping_interval: 5s
  pong_timeout: 10s
auth:
  jwt_secret: file-secret
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected validation error")
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadWithPrecedence_FileWinsOverEnv(t *testing.T) {
	t.Setenv("TEAMCHAT_HTTP_PORT", "9999")
	t.Setenv("TEAMCHAT_JWT_SECRET", "env-secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: 7777
auth:
  jwt_secret: file-secret
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg := LoadWithPrecedence(path)
	if cfg.HTTP.Port != 7777 {
		t.Errorf("file should win over env: %d", cfg.HTTP.Port)
	}

	// Without a file the env overlay applies.
	cfg = LoadWithPrecedence("")
	if cfg.HTTP.Port != 9999 {
		t.Errorf("env overlay lost: %d", cfg.HTTP.Port)
	}
}
