package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	recomputeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "backend",
		Name:      "personal_best_recomputes_total",
		Help:      "Number of server-side personal best recomputations.",
	})
	bestsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "circuit",
		Subsystem: "backend",
		Name:      "last_recompute_bests",
		Help:      "Number of personal bests produced by the most recent recomputation.",
	})
)

func init() {
	prometheus.MustRegister(recomputeCounter, bestsGauge)
}

func recordRecompute(bests int) {
	recomputeCounter.Inc()
	bestsGauge.Set(float64(bests))
}
