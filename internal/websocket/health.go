package websocket

import (
	"log"
	"sync"
	"time"

	"teamchat/internal/observability"
)

// HealthMonitor prunes dead connections with a two-phase probe: on each tick
// a connection that never answered the previous probe is terminated at once;
// everyone else is marked not-alive, pinged, and given pongTimeout to answer
// before a per-connection timer terminates it. Worst-case detection latency
// is pingInterval + pongTimeout regardless of how many clients are slow.
type HealthMonitor struct {
	registry *Registry

	pingInterval time.Duration
	pongTimeout  time.Duration

	metrics *observability.Metrics

	// terminate is swappable in tests; defaults to closing the connection,
	// which unwinds the read loop and its registry cleanup.
	terminate func(*Connection, string)

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewHealthMonitor creates a monitor probing every pingInterval.
func NewHealthMonitor(registry *Registry, pingInterval, pongTimeout time.Duration, metrics *observability.Metrics) *HealthMonitor {
	m := &HealthMonitor{
		registry:     registry,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		metrics:      metrics,
		stopCh:       make(chan struct{}),
	}
	m.terminate = m.defaultTerminate
	return m
}

// Attach initializes liveness for a newly registered connection so the first
// probe cycle does not mistake it for an unresponsive one.
func (m *HealthMonitor) Attach(conn *Connection) {
	conn.MarkAlive()
}

// Start begins the probe loop.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.ticker = time.NewTicker(m.pingInterval)

	m.wg.Add(1)
	go m.run()
}

// Stop halts probing. Pending per-connection terminate timers are cancelled
// as their connections close.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.ticker.Stop()
	})
	m.wg.Wait()
}

func (m *HealthMonitor) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ticker.C:
			m.probe()
		case <-m.stopCh:
			return
		}
	}
}

// probe runs one cycle over a snapshot of open connections.
func (m *HealthMonitor) probe() {
	m.registry.ForEachOpen(nil, func(conn *Connection) {
		if !conn.IsAlive() {
			// Never answered the previous probe.
			m.terminate(conn, "unanswered probe")
			return
		}

		conn.beginProbe(m.pongTimeout, func() {
			if !conn.IsAlive() {
				m.terminate(conn, "probe timeout")
			}
		})

		if err := conn.Ping(m.pongTimeout); err != nil {
			// A probe we cannot even send is as good as a dead socket.
			m.terminate(conn, "probe send failed")
		}
	})
}

func (m *HealthMonitor) defaultTerminate(conn *Connection, reason string) {
	log.Printf("Health monitor terminating connection: session=%s user=%s reason=%s",
		conn.SessionID(), conn.Username(), reason)
	m.metrics.HealthTerminated()
	_ = conn.Close()
}
