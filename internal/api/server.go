// Package api is the operational HTTP surface: health and metrics. It holds
// no business logic; chat traffic flows over the websocket endpoint only.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the persistence layer is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStats exposes the registry's aggregate counters.
type ConnectionStats interface {
	Stats() (current, total, peak int)
}

// OnlineCounter reports users currently not offline.
type OnlineCounter interface {
	OnlineCount() int
}

// LockCounter reports currently held edit locks.
type LockCounter interface {
	LockCount() int
}

// Server serves /healthz and /metrics.
type Server struct {
	store    HealthChecker
	registry ConnectionStats
	presence OnlineCounter
	locks    LockCounter

	mux *http.ServeMux
}

// NewServer wires the operational endpoints.
func NewServer(store HealthChecker, registry ConnectionStats, presence OnlineCounter, locks LockCounter) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		presence: presence,
		locks:    locks,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections struct {
		Current int `json:"current"`
		Total   int `json:"total"`
		Peak    int `json:"peak"`
	} `json:"connections"`
	OnlineUsers int `json:"onlineUsers"`
	HeldLocks   int `json:"heldLocks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
	}
	resp.Connections.Current, resp.Connections.Total, resp.Connections.Peak = s.registry.Stats()
	resp.OnlineUsers = s.presence.OnlineCount()
	resp.HeldLocks = s.locks.LockCount()

	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode health response: %v", err)
	}
}
