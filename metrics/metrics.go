package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collab_board"

// Metrics holds the Prometheus collectors shared by the sync client and the
// hub. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived  *prometheus.CounterVec
	framesMalformed prometheus.Counter
	framesSent      prometheus.Counter
	sendsDropped    prometheus.Counter
	reconnects      prometheus.Counter
	connState       *prometheus.GaugeVec
	rollbacks       prometheus.Counter
	hubConnections  *prometheus.GaugeVec
	hubRejected     *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses a private registry,
// which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound real-time frames by event type",
		}, []string{"type"}),
		framesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to an open connection",
		}),
		sendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Outbound frames dropped because the connection was not open",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts made after a close or failed dial",
		}),
		connState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic moves reverted after a failed durable update",
		}),
		hubConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open hub connections per board",
		}, []string{"board"}),
		hubRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "rejected_connections_total",
			Help:      "Hub connections refused by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) FrameReceived(eventType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.framesMalformed.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.sendsDropped.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetState marks current as the only active connection state.
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) HubConnections(board string, n int) {
	if m == nil {
		return
	}
	m.hubConnections.WithLabelValues(board).Set(float64(n))
}

func (m *Metrics) HubRejected(reason string) {
	if m == nil {
		return
	}
	m.hubRejected.WithLabelValues(reason).Inc()
}
