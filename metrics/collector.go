package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zereker/fixgateway/session"
)

// SessionSource lists the sessions currently known to a gateway.
type SessionSource interface {
	Sessions() []session.Snapshot
}

var sessionLabels = []string{"connection_id", "session_id", "sender_comp_id", "target_comp_id", "role"}

// Collector reports per-session sequence numbers from snapshots at scrape
// time. It never touches live session state.
type Collector struct {
	source SessionSource

	state            *prometheus.Desc
	expectedReceived *prometheus.Desc
	nextSent         *prometheus.Desc
	heartbeat        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector reading from source.
func NewCollector(source SessionSource) *Collector {
	return &Collector{
		source: source,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "state"),
			"Session state: 0 connected, 1 active, 2 awaiting resend, 3 disconnected",
			sessionLabels, nil,
		),
		expectedReceived: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "expected_received_seq_num"),
			"MsgSeqNum expected on the next inbound message",
			sessionLabels, nil,
		),
		nextSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "next_sent_seq_num"),
			"MsgSeqNum of the next outbound message",
			sessionLabels, nil,
		),
		heartbeat: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "heartbeat_interval_seconds"),
			"Negotiated heartbeat interval",
			sessionLabels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.expectedReceived
	ch <- c.nextSent
	ch <- c.heartbeat
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Sessions() {
		labels := []string{
			strconv.FormatInt(s.ConnectionID, 10),
			strconv.FormatInt(s.SessionID, 10),
			s.Key.SenderCompID,
			s.Key.TargetCompID,
			s.Role,
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State), labels...)
		ch <- prometheus.MustNewConstMetric(c.expectedReceived, prometheus.GaugeValue, float64(s.ExpectedReceivedSeqNum), labels...)
		ch <- prometheus.MustNewConstMetric(c.nextSent, prometheus.GaugeValue, float64(s.NextSentSeqNum), labels...)
		ch <- prometheus.MustNewConstMetric(c.heartbeat, prometheus.GaugeValue, s.HeartbeatInterval.Seconds(), labels...)
	}
}
