// Package observability collects passive Prometheus counters and gauges for
// the messaging core. All metrics register with the default registry and are
// served from the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central handle components use to record activity. A nil
// *Metrics is valid everywhere and records nothing, which keeps tests quiet.
type Metrics struct {
	// ConnectionsCurrent tracks live WebSocket connections.
	ConnectionsCurrent prometheus.Gauge

	// ConnectionsTotal counts every connection ever registered.
	ConnectionsTotal prometheus.Counter

	// ConnectionsPeak is the high-water mark of concurrent connections.
	// Never decremented.
	ConnectionsPeak prometheus.Gauge

	// MessagesInbound counts dispatched frames by envelope type tag.
	MessagesInbound *prometheus.CounterVec

	// MessagesFanout counts envelopes delivered to recipients.
	MessagesFanout prometheus.Counter

	// HandlerErrors counts error envelopes returned to senders, by code.
	HandlerErrors *prometheus.CounterVec

	// RateLimitRejections counts frames dropped by the rate limiter.
	RateLimitRejections prometheus.Counter

	// LockEvents counts edit-lock grants, denials, releases and expiries.
	LockEvents *prometheus.CounterVec

	// PresenceTransitions counts committed presence changes by status.
	PresenceTransitions *prometheus.CounterVec

	// HealthTerminations counts connections killed by the health monitor.
	HealthTerminations prometheus.Counter
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "teamchat_connections_current",
			Help: "Number of live WebSocket connections.",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "teamchat_connections_total",
			Help: "Total WebSocket connections ever registered.",
		}),
		ConnectionsPeak: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "teamchat_connections_peak",
			Help: "High-water mark of concurrent WebSocket connections.",
		}),
		MessagesInbound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "teamchat_messages_inbound_total",
			Help: "Inbound envelopes dispatched, by type tag.",
		}, []string{"type"}),
		MessagesFanout: promauto.NewCounter(prometheus.CounterOpts{
			Name: "teamchat_messages_fanout_total",
			Help: "Envelopes delivered to fan-out recipients.",
		}),
		HandlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "teamchat_handler_errors_total",
			Help: "Error envelopes returned to senders, by code.",
		}, []string{"code"}),
		RateLimitRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "teamchat_rate_limit_rejections_total",
			Help: "Inbound frames rejected by the rate limiter.",
		}),
		LockEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "teamchat_lock_events_total",
			Help: "Edit-lock events, by kind.",
		}, []string{"event"}),
		PresenceTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "teamchat_presence_transitions_total",
			Help: "Committed presence transitions, by status.",
		}, []string{"status"}),
		HealthTerminations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "teamchat_health_terminations_total",
			Help: "Connections terminated by the health monitor.",
		}),
	}
}

// Nil-safe recording helpers.

func (m *Metrics) ConnectionOpened(current, peak int) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsCurrent.Set(float64(current))
	m.ConnectionsPeak.Set(float64(peak))
}

func (m *Metrics) ConnectionClosed(current int) {
	if m == nil {
		return
	}
	m.ConnectionsCurrent.Set(float64(current))
}

func (m *Metrics) InboundMessage(msgType string) {
	if m == nil {
		return
	}
	m.MessagesInbound.WithLabelValues(msgType).Inc()
}

func (m *Metrics) FanoutDelivered(n int) {
	if m == nil {
		return
	}
	m.MessagesFanout.Add(float64(n))
}

func (m *Metrics) HandlerError(code string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}

func (m *Metrics) LockEvent(event string) {
	if m == nil {
		return
	}
	m.LockEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) PresenceTransition(status string) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) HealthTerminated() {
	if m == nil {
		return
	}
	m.HealthTerminations.Inc()
}
