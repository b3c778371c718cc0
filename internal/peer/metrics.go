package peer

import "github.com/prometheus/client_golang/prometheus"

var (
	sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "messages_sent_total",
		Help:      "Number of messages handed to the peer transport.",
	}, []string{"type"})

	queuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "messages_queued_total",
		Help:      "Number of undeliverable messages persisted for a later flush.",
	}, []string{"type"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "messages_dropped_total",
		Help:      "Number of non-queueable messages dropped while the peer was unreachable.",
	}, []string{"type"})

	receivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "messages_received_total",
		Help:      "Number of inbound messages handled successfully.",
	}, []string{"type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "handler_errors_total",
		Help:      "Number of inbound handler errors grouped by type.",
	}, []string{"type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "decode_errors_total",
		Help:      "Number of relay records that could not be decoded, per topic.",
	}, []string{"topic"})

	reachableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "circuit",
		Subsystem: "peer",
		Name:      "reachable",
		Help:      "1 when the other device is reachable.",
	})
)

func init() {
	prometheus.MustRegister(sentCounter, queuedCounter, droppedCounter, receivedCounter, handlerErrorCounter, decodeErrorCounter, reachableGauge)
}

func recordSent(t MessageType)         { sentCounter.WithLabelValues(string(t)).Inc() }
func recordQueued(t MessageType)       { queuedCounter.WithLabelValues(string(t)).Inc() }
func recordDropped(t MessageType)      { droppedCounter.WithLabelValues(string(t)).Inc() }
func recordReceived(t MessageType)     { receivedCounter.WithLabelValues(string(t)).Inc() }
func recordHandlerError(t MessageType) { handlerErrorCounter.WithLabelValues(string(t)).Inc() }
func recordDecodeError(topic string)   { decodeErrorCounter.WithLabelValues(topic).Inc() }

func recordReachable(reachable bool) {
	if reachable {
		reachableGauge.Set(1)
		return
	}
	reachableGauge.Set(0)
}
