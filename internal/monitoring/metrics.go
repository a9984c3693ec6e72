package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SpawnFailures   prometheus.Counter
	WriteFailures   prometheus.Counter
	InputBytes      prometheus.Counter
	Events          *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jeditr_shell_sessions_active",
				Help: "Number of registered shell sessions",
			},
		),
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jeditr_shell_sessions_started_total",
				Help: "Total number of shell sessions started",
			},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jeditr_shell_spawn_failures_total",
				Help: "Total number of shells that failed to spawn",
			},
		),
		WriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jeditr_shell_write_failures_total",
				Help: "Total number of failed writes to shell stdin",
			},
		),
		InputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jeditr_shell_input_bytes_total",
				Help: "Total bytes forwarded to shell stdin",
			},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jeditr_shell_events_total",
				Help: "Total number of shell events emitted",
			},
			[]string{"kind"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jeditr_ws_connections_active",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jeditr_ws_messages_total",
				Help: "Total number of WebSocket messages received",
			},
			[]string{"type"},
		),
	}
}

// SessionRegistered records a newly registered session.
func (m *Metrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// SessionRemoved records a session leaving the registry.
func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) SpawnFailed() {
	if m == nil {
		return
	}
	m.SpawnFailures.Inc()
}

func (m *Metrics) InputWritten(n int) {
	if m == nil {
		return
	}
	m.InputBytes.Add(float64(n))
}

func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(msgType).Inc()
}
