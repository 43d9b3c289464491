// Package config is the system-wide settings coordinator. Precedence is
// file > environment > defaults; every tunable the server relies on lives
// here so no component carries hardcoded timing constants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      *HTTPConfig      `yaml:"http"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Presence  *PresenceConfig  `yaml:"presence"`
	EditLock  *EditLockConfig  `yaml:"edit_lock"`
	Database  *DatabaseConfig  `yaml:"database"`
	Files     *FilesConfig     `yaml:"files"`
	Auth      *AuthConfig      `yaml:"auth"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	MaxConnsPerUser int           `yaml:"max_conns_per_user"`
}

type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

type PresenceConfig struct {
	OfflineGrace      time.Duration `yaml:"offline_grace"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type EditLockConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type DatabaseConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type FilesConfig struct {
	Dir string `yaml:"dir"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// DefaultConfig returns production defaults. The presence grace and lock TTL
// values match the documented behavior clients were built against.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			PongTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Second,
			SendBufferSize:  100,
			MaxConnsPerUser: 5,
		},
		RateLimit: &RateLimitConfig{
			Window:      time.Minute,
			MaxRequests: 100,
		},
		Presence: &PresenceConfig{
			OfflineGrace:      5 * time.Second,
			ReconcileInterval: time.Minute,
		},
		EditLock: &EditLockConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Database: &DatabaseConfig{
			Path:    "./teamchat.db",
			Timeout: 30 * time.Second,
		},
		Files: &FilesConfig{
			Dir: "./files",
		},
		Auth: &AuthConfig{
			JWTSecret: "",
			TokenTTL:  24 * time.Hour,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.PongTimeout <= 0 {
		return fmt.Errorf("websocket pong timeout must be positive")
	}
	if c.WebSocket.PongTimeout >= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket pong timeout must be shorter than ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer size must be positive")
	}
	if c.WebSocket.MaxConnsPerUser <= 0 {
		return fmt.Errorf("websocket max connections per user must be positive")
	}
	if c.RateLimit == nil || c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit window and max requests must be positive")
	}
	if c.Presence == nil || c.Presence.OfflineGrace <= 0 || c.Presence.ReconcileInterval <= 0 {
		return fmt.Errorf("presence grace and reconcile interval must be positive")
	}
	if c.EditLock == nil || c.EditLock.TTL <= 0 || c.EditLock.SweepInterval <= 0 {
		return fmt.Errorf("edit lock TTL and sweep interval must be positive")
	}
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Files == nil || c.Files.Dir == "" {
		return fmt.Errorf("files directory cannot be empty")
	}
	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}
	return nil
}

// LoadFromEnv overlays TEAMCHAT_* environment variables on the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEAMCHAT_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("TEAMCHAT_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if secret := os.Getenv("TEAMCHAT_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if path := os.Getenv("TEAMCHAT_DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if dir := os.Getenv("TEAMCHAT_FILES_DIR"); dir != "" {
		cfg.Files.Dir = dir
	}

	overlayDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	overlayInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	overlayDuration("TEAMCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	overlayDuration("TEAMCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	overlayDuration("TEAMCHAT_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	overlayDuration("TEAMCHAT_WS_PONG_TIMEOUT", &cfg.WebSocket.PongTimeout)
	overlayDuration("TEAMCHAT_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	overlayInt("TEAMCHAT_WS_SEND_BUFFER_SIZE", &cfg.WebSocket.SendBufferSize)
	overlayInt("TEAMCHAT_WS_MAX_CONNS_PER_USER", &cfg.WebSocket.MaxConnsPerUser)
	overlayDuration("TEAMCHAT_RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	overlayInt("TEAMCHAT_RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests)
	overlayDuration("TEAMCHAT_PRESENCE_OFFLINE_GRACE", &cfg.Presence.OfflineGrace)
	overlayDuration("TEAMCHAT_PRESENCE_RECONCILE_INTERVAL", &cfg.Presence.ReconcileInterval)
	overlayDuration("TEAMCHAT_EDIT_LOCK_TTL", &cfg.EditLock.TTL)
	overlayDuration("TEAMCHAT_EDIT_LOCK_SWEEP_INTERVAL", &cfg.EditLock.SweepInterval)
	overlayDuration("TEAMCHAT_DATABASE_TIMEOUT", &cfg.Database.Timeout)
	overlayDuration("TEAMCHAT_AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)

	return cfg
}

// configFile mirrors Config with string durations so YAML files can use
// human-readable values like "30s" and "5m".
type configFile struct {
	HTTP *struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"http"`
	WebSocket *struct {
		PingInterval    string `yaml:"ping_interval"`
		PongTimeout     string `yaml:"pong_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		SendBufferSize  int    `yaml:"send_buffer_size"`
		MaxConnsPerUser int    `yaml:"max_conns_per_user"`
	} `yaml:"websocket"`
	RateLimit *struct {
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate_limit"`
	Presence *struct {
		OfflineGrace      string `yaml:"offline_grace"`
		ReconcileInterval string `yaml:"reconcile_interval"`
	} `yaml:"presence"`
	EditLock *struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"edit_lock"`
	Database *struct {
		Path    string `yaml:"path"`
		Timeout string `yaml:"timeout"`
	} `yaml:"database"`
	Files *struct {
		Dir string `yaml:"dir"`
	} `yaml:"files"`
	Auth *struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
}

func overlayFileDuration(value string, dst *time.Duration) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	}
}

// LoadFromFile reads a YAML configuration file and validates the result.
// Sections missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		overlayFileDuration(file.HTTP.ReadTimeout, &cfg.HTTP.ReadTimeout)
		overlayFileDuration(file.HTTP.WriteTimeout, &cfg.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		overlayFileDuration(file.WebSocket.PingInterval, &cfg.WebSocket.PingInterval)
		overlayFileDuration(file.WebSocket.PongTimeout, &cfg.WebSocket.PongTimeout)
		overlayFileDuration(file.WebSocket.WriteTimeout, &cfg.WebSocket.WriteTimeout)
		if file.WebSocket.SendBufferSize > 0 {
			cfg.WebSocket.SendBufferSize = file.WebSocket.SendBufferSize
		}
		if file.WebSocket.MaxConnsPerUser > 0 {
			cfg.WebSocket.MaxConnsPerUser = file.WebSocket.MaxConnsPerUser
		}
	}
	if file.RateLimit != nil {
		overlayFileDuration(file.RateLimit.Window, &cfg.RateLimit.Window)
		if file.RateLimit.MaxRequests > 0 {
			cfg.RateLimit.MaxRequests = file.RateLimit.MaxRequests
		}
	}
	if file.Presence != nil {
		overlayFileDuration(file.Presence.OfflineGrace, &cfg.Presence.OfflineGrace)
		overlayFileDuration(file.Presence.ReconcileInterval, &cfg.Presence.ReconcileInterval)
	}
	if file.EditLock != nil {
		overlayFileDuration(file.EditLock.TTL, &cfg.EditLock.TTL)
		overlayFileDuration(file.EditLock.SweepInterval, &cfg.EditLock.SweepInterval)
	}
	if file.Database != nil {
		if file.Database.Path != "" {
			cfg.Database.Path = file.Database.Path
		}
		overlayFileDuration(file.Database.Timeout, &cfg.Database.Timeout)
	}
	if file.Files != nil && file.Files.Dir != "" {
		cfg.Files.Dir = file.Files.Dir
	}
	if file.Auth != nil {
		if file.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = file.Auth.JWTSecret
		}
		overlayFileDuration(file.Auth.TokenTTL, &cfg.Auth.TokenTTL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithPrecedence resolves configuration as file > environment > defaults.
// A missing or unreadable file falls back to the environment overlay.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}
