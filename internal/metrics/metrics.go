// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	framesIn      *prometheus.CounterVec
	framesOut     prometheus.Counter
	sendFailures  prometheus.Counter
	messages      *prometheus.CounterVec
	notifications prometheus.Counter
	presence      *prometheus.CounterVec
	rejected      prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay", Name: "connections",
			Help: "Live authenticated WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay", Name: "online_users",
			Help: "Users with at least one live connection.",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay", Name: "frames_received_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay", Name: "frames_sent_total",
			Help: "Outbound frames written to a connection.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay", Name: "send_failures_total",
			Help: "Writes that failed and dropped a connection.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay", Name: "messages_routed_total",
			Help: "Persisted chat messages by classification.",
		}, []string{"message_type"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay", Name: "notifications_created_total",
			Help: "Persisted notifications.",
		}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay", Name: "presence_transitions_total",
			Help: "Online/offline transitions.",
		}, []string{"state"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay", Name: "sessions_rejected_total",
			Help: "Connections closed for failed authentication.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.onlineUsers, m.framesIn, m.framesOut, m.sendFailures,
		m.messages, m.notifications, m.presence, m.rejected,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

func (m *Metrics) SetConnections(users, conns int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(users))
	m.connections.Set(float64(conns))
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) MessageRouted(messageType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(messageType).Inc()
}

func (m *Metrics) NotificationCreated() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) Presence(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.presence.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
