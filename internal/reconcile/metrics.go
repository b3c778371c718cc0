package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Number of reconciliation runs by kind and outcome.",
	}, []string{"kind", "outcome"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circuit",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Time spent in a reconciliation run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	removedLocallyCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "reconcile",
		Name:      "workouts_removed_locally_total",
		Help:      "Number of local sessions removed because the backend no longer has them.",
	})
)

func init() {
	prometheus.MustRegister(runCounter, runDuration, removedLocallyCounter)
}

func recordRun(kind string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	runCounter.WithLabelValues(kind, outcome).Inc()
	runDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func recordRemovedLocally() { removedLocallyCounter.Inc() }
