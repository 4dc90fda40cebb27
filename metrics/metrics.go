// Package metrics exposes gateway activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fixgw"

// Metrics counts traffic across all connections. A nil *Metrics discards
// everything, so callers need not check whether metrics are enabled.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     prometheus.Counter
	bytesReceived    prometheus.Counter
	invalidMessages  *prometheus.CounterVec
	logons           *prometheus.CounterVec
	disconnects      prometheus.Counter
	connections      prometheus.Gauge
}

// New creates the gateway collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Framed messages received, by MsgType",
			},
			[]string{"msg_type"},
		),
		messagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages queued for sending",
			},
		),
		bytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Bytes read from counterparties",
			},
		),
		invalidMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_messages_total",
				Help:      "Inbound data that could not be framed or decoded, by kind",
			},
			[]string{"kind"},
		),
		logons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logons_total",
				Help:      "Completed logons, by role",
			},
			[]string{"role"},
		),
		disconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disconnects_total",
				Help:      "Connections torn down",
			},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Open connections",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.messagesReceived, m.messagesSent, m.bytesReceived, m.invalidMessages,
		m.logons, m.disconnects, m.connections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MessageReceived counts one framed message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// MessageSent counts one queued outbound message.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// BytesReceived adds n read bytes.
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// InvalidMessage counts data dropped as invalid.
func (m *Metrics) InvalidMessage(kind string) {
	if m == nil {
		return
	}
	m.invalidMessages.WithLabelValues(kind).Inc()
}

// Logon counts a completed logon.
func (m *Metrics) Logon(role string) {
	if m == nil {
		return
	}
	m.logons.WithLabelValues(role).Inc()
}

// ConnectionOpened tracks a new connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
	m.disconnects.Inc()
}
