// Package metrics exports relay counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "call_signaling"

// Error reasons reported on the relay_errors_total counter.
const (
	ReasonOffline  = "target_offline"
	ReasonConflict = "conflict"
	ReasonSelfCall = "self_call"
	ReasonProtocol = "protocol"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// which keeps tests that don't care about metrics short.
type Metrics struct {
	OnlineIdentities prometheus.Gauge
	ActiveCalls      prometheus.Gauge
	Relayed          *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	Connections      *prometheus.CounterVec
	Dropped          prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_identities",
			Help:      "Identities with a live signaling connection.",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Call sessions currently tracked.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Messages delivered to a target connection, by type.",
		}, []string{"type"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Error events returned to senders, by reason.",
		}, []string{"reason"}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connections by outcome.",
		}, []string{"result"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped because a client buffer was full.",
		}),
	}
	reg.MustRegister(
		m.OnlineIdentities,
		m.ActiveCalls,
		m.Relayed,
		m.Errors,
		m.Connections,
		m.Dropped,
	)
	return m
}

func (m *Metrics) SetSizes(users, calls int) {
	if m == nil {
		return
	}
	m.OnlineIdentities.Set(float64(users))
	m.ActiveCalls.Set(float64(calls))
}

func (m *Metrics) IncRelayed(msgType string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncError(reason string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncConnection(result string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}
