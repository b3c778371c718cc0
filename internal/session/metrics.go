package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/circuit/internal/domain"
)

var (
	finishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "session",
		Name:      "finished_total",
		Help:      "Number of sessions finished and persisted on this device.",
	})

	cancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "session",
		Name:      "cancelled_total",
		Help:      "Number of sessions discarded before finishing.",
	})

	persistFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "session",
		Name:      "persist_failures_total",
		Help:      "Number of failed attempts to persist a finished session.",
	})

	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "circuit",
		Subsystem: "session",
		Name:      "duration_seconds",
		Help:      "Total duration of finished sessions.",
		Buckets:   prometheus.ExponentialBuckets(60, 2, 8),
	})
)

func init() {
	prometheus.MustRegister(finishedCounter, cancelledCounter, persistFailureCounter, sessionDuration)
}

func recordFinished(s domain.WorkoutSession) {
	finishedCounter.Inc()
	sessionDuration.Observe(s.TotalDuration)
}

func recordCancelled()      { cancelledCounter.Inc() }
func recordPersistFailure() { persistFailureCounter.Inc() }
