package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "outbox",
		Name:      "entries_delivered_total",
		Help:      "Number of queued entries delivered and removed, labeled by destination and type.",
	}, []string{"destination", "type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "outbox",
		Name:      "delivery_failures_total",
		Help:      "Number of failed deliveries that left the entry queued.",
	}, []string{"destination", "type"})

	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "outbox",
		Name:      "entries_enqueued_total",
		Help:      "Number of entries accepted into the durable queue.",
	}, []string{"destination", "type"})

	flushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circuit",
		Subsystem: "outbox",
		Name:      "flush_duration_seconds",
		Help:      "Time spent draining the queue for one destination.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"destination"})

	backlogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "circuit",
		Subsystem: "outbox",
		Name:      "queued_entries",
		Help:      "Current number of entries waiting for delivery.",
	}, []string{"destination"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, enqueuedCounter, flushDuration, backlogGauge)
}

// RecordEnqueued counts an accepted enqueue. Queue implementations call it after an insert.
func RecordEnqueued(e Entry) {
	enqueuedCounter.WithLabelValues(string(e.Destination), e.Type).Inc()
}
