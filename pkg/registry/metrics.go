package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registry. A nil *Metrics is
// valid and records nothing, so tests can skip collector registration.
type Metrics struct {
	activeSessions     prometheus.Gauge
	commandsReceived   *prometheus.CounterVec
	loginsTotal        prometheus.Counter
	heartbeatsReceived prometheus.Counter
	heartbeatExpiries  prometheus.Counter
}

// NewMetrics creates a new metrics instance and registers its collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "peerchat_registry_active_sessions",
				Help: "Current number of authenticated sessions",
			},
		),
		commandsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerchat_registry_commands_received_total",
				Help: "Total number of protocol commands received, by command",
			},
			[]string{"command"},
		),
		loginsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "peerchat_registry_logins_total",
				Help: "Total number of successful logins",
			},
		),
		heartbeatsReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "peerchat_registry_heartbeats_received_total",
				Help: "Total number of HELLO datagrams accepted",
			},
		),
		heartbeatExpiries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "peerchat_registry_heartbeat_expiries_total",
				Help: "Total number of sessions deregistered by heartbeat timeout",
			},
		),
	}
}

func (m *Metrics) RecordActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.commandsReceived.WithLabelValues(command).Inc()
}

func (m *Metrics) RecordLogin() {
	if m == nil {
		return
	}
	m.loginsTotal.Inc()
}

func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsReceived.Inc()
}

func (m *Metrics) RecordHeartbeatExpiry() {
	if m == nil {
		return
	}
	m.heartbeatExpiries.Inc()
}
