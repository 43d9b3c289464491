// Package app wires the messaging server together. Components are built in
// dependency order, started front-to-back and stopped in reverse, so a
// half-started application can always be torn down cleanly.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"teamchat/internal/api"
	"teamchat/internal/auth"
	"teamchat/internal/config"
	"teamchat/internal/editlock"
	"teamchat/internal/observability"
	"teamchat/internal/presence"
	"teamchat/internal/ratelimit"
	"teamchat/internal/router"
	"teamchat/internal/store"
	"teamchat/internal/websocket"
)

// Application owns every long-lived component of the server.
type Application struct {
	config *config.Config

	chatStore *store.Store
	presence  *presence.Store
	locks     *editlock.Manager
	limiter   *ratelimit.Limiter
	registry  *websocket.Registry
	monitor   *websocket.HealthMonitor

	httpServer *http.Server
}

// NewApplication builds all components. Order: store → auth → registry →
// presence → locks → limiter → router → handler → monitor → HTTP.
func NewApplication(cfg *config.Config, metrics *observability.Metrics) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	chatStore, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	files, err := store.NewDiskFileStore(cfg.Files.Dir)
	if err != nil {
		_ = chatStore.Close()
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	registry := websocket.NewRegistry(cfg.WebSocket.MaxConnsPerUser, metrics)
	presenceStore := presence.NewStore(chatStore, cfg.Presence.OfflineGrace, cfg.Presence.ReconcileInterval)
	locks := editlock.NewManager(cfg.EditLock.TTL, cfg.EditLock.SweepInterval)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	messageRouter := router.NewRouter(registry, verifier, chatStore, files, presenceStore, locks, limiter, metrics)

	// Fan-out callbacks close the loop back through the router, so presence
	// commits and lock events reach every entitled connection.
	presenceStore.SetNotify(messageRouter.BroadcastPresence)
	locks.SetNotifier(messageRouter.NotifyLock)

	monitor := websocket.NewHealthMonitor(registry, cfg.WebSocket.PingInterval, cfg.WebSocket.PongTimeout, metrics)

	wsHandler := websocket.NewHandler(registry, verifier, messageRouter, monitor,
		cfg.WebSocket.SendBufferSize, cfg.WebSocket.WriteTimeout)
	wsHandler.OnConnect = presenceStore.OnConnect
	wsHandler.OnDisconnect = func(username string, last bool) {
		presenceStore.OnDisconnect(username)
		if last {
			// A vanished editor must not wedge its resources until the TTL.
			if released := locks.ReleaseHeldBy(username); len(released) > 0 {
				log.Printf("Released edit locks on disconnect: user=%s count=%d", username, len(released))
			}
		}
	}

	apiServer := api.NewServer(chatStore, registry, presenceStore, locks)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/healthz", apiServer)
	mux.Handle("/metrics", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		chatStore:  chatStore,
		presence:   presenceStore,
		locks:      locks,
		limiter:    limiter,
		registry:   registry,
		monitor:    monitor,
		httpServer: httpServer,
	}, nil
}

// Start launches the health monitor and the HTTP server and verifies the
// listener came up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting teamchat server on %s", app.httpServer.Addr)

	app.monitor.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		app.monitor.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Teamchat server started")
		return nil
	case <-ctx.Done():
		app.monitor.Stop()
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order: stop accepting
// traffic, stop the background loops, then close the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down teamchat server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.monitor.Stop()

	// Close remaining connections so their read loops unwind before the
	// stores go away.
	app.registry.ForEachOpen(nil, func(conn *websocket.Connection) {
		_ = conn.Close()
	})

	app.limiter.Shutdown()
	app.locks.Shutdown()
	app.presence.Shutdown()

	if err := app.chatStore.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	log.Printf("Teamchat server stopped")
	return nil
}
