package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workflow_realtime"

// Metrics holds every collector the connection manager and router update.
type Metrics struct {
	connectionsActive   prometheus.Gauge
	connectAttempts     *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	reconnectsExhausted prometheus.Counter
	heartbeatsSent      prometheus.Counter
	heartbeatsMissed    prometheus.Counter
	heartbeatTimeouts   prometheus.Counter
	messagesSent        prometheus.Counter
	messagesQueued      prometheus.Counter
	messagesDropped     *prometheus.CounterVec
	acksReceived        prometheus.Counter
	ackRoundTrip        prometheus.Histogram
	ackTimeouts         *prometheus.CounterVec
	framesReceived      *prometheus.CounterVec
	parseErrors         prometheus.Counter
	unknownTypes        prometheus.Counter
	invalidations       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "active",
			Help:      "Number of open workflow connections",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Transport open attempts by result",
		}, []string{"result"}),
		reconnectsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Total reconnect timers armed",
		}),
		reconnectsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_exhausted_total",
			Help:      "Workflows that hit the reconnect attempt limit",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Total heartbeat frames sent",
		}),
		heartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "missed_total",
			Help:      "Total heartbeat ticks counted as missed",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "timeouts_total",
			Help:      "Connections torn down for missed heartbeats",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "sent_total",
			Help:      "Total application frames written to a transport",
		}),
		messagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "queued_total",
			Help:      "Total frames queued while disconnected",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "dropped_total",
			Help:      "Total outbound frames dropped by reason",
		}, []string{"reason"}),
		acksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "acks_total",
			Help:      "Total acknowledgements matched to a pending frame",
		}),
		ackRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "ack_round_trip_seconds",
			Help:      "Time from send to acknowledgement",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		ackTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "ack_timeouts_total",
			Help:      "Pending frames that outlived the ack timeout, by action taken",
		}, []string{"action"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "frames_total",
			Help:      "Inbound frames routed by type",
		}, []string{"type"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "parse_errors_total",
			Help:      "Inbound frames dropped as malformed",
		}),
		unknownTypes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "unknown_types_total",
			Help:      "Inbound frames with an unrecognized type",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "invalidations_total",
			Help:      "Cache invalidation requests by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectionsActive,
			m.connectAttempts,
			m.reconnectsScheduled,
			m.reconnectsExhausted,
			m.heartbeatsSent,
			m.heartbeatsMissed,
			m.heartbeatTimeouts,
			m.messagesSent,
			m.messagesQueued,
			m.messagesDropped,
			m.acksReceived,
			m.ackRoundTrip,
			m.ackTimeouts,
			m.framesReceived,
			m.parseErrors,
			m.unknownTypes,
			m.invalidations,
		)
	}

	return m
}

// ConnectionOpened records a transport reaching the open state.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectAttempts.WithLabelValues("opened").Inc()
}

// ConnectionClosed records an open transport going away.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnectFailed records a transport that could not be constructed or opened.
func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues("failed").Inc()
}

// ReconnectScheduled records an armed reconnect timer.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsScheduled.Inc()
}

// ReconnectExhausted records a workflow giving up on reconnecting.
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectsExhausted.Inc()
}

// HeartbeatSent records a heartbeat frame.
func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// HeartbeatMissed records a missed heartbeat tick.
func (m *Metrics) HeartbeatMissed() {
	if m == nil {
		return
	}
	m.heartbeatsMissed.Inc()
}

// HeartbeatTimeout records a connection torn down for missed heartbeats.
func (m *Metrics) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

// MessageSent records an application frame written to a transport.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// MessageQueued records a frame held for a later connection.
func (m *Metrics) MessageQueued() {
	if m == nil {
		return
	}
	m.messagesQueued.Inc()
}

// MessageDropped records an outbound frame discarded for reason.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// AckReceived records a matched acknowledgement and its round trip.
func (m *Metrics) AckReceived(seconds float64) {
	if m == nil {
		return
	}
	m.acksReceived.Inc()
	m.ackRoundTrip.Observe(seconds)
}

// AckTimeout records the action taken for an expired pending frame.
func (m *Metrics) AckTimeout(action string) {
	if m == nil {
		return
	}
	m.ackTimeouts.WithLabelValues(action).Inc()
}

// FrameReceived records a parsed inbound frame.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

// ParseError records a malformed inbound frame.
func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// UnknownType records a frame with an unrecognized type.
func (m *Metrics) UnknownType() {
	if m == nil {
		return
	}
	m.unknownTypes.Inc()
}

// Invalidation records a cache invalidation attempt.
func (m *Metrics) Invalidation(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.invalidations.WithLabelValues(result).Inc()
}
