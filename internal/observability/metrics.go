// Package observability holds backend persistence metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/circuit/internal/domain"
)

var (
	workoutStoredGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "circuit",
		Subsystem: "persistence",
		Name:      "last_workout_stored_timestamp_seconds",
		Help:      "Completion time of the most recent workout written to Postgres.",
	})
	workoutsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "persistence",
		Name:      "workouts_stored_total",
		Help:      "Number of workout upserts written to Postgres.",
	})
	workoutsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "circuit",
		Subsystem: "persistence",
		Name:      "workouts_deleted_total",
		Help:      "Number of workouts removed from Postgres.",
	})
)

func init() {
	prometheus.MustRegister(workoutStoredGauge, workoutsStored, workoutsDeleted)
}

// RecordWorkoutStored updates the persistence watermark gauge.
func RecordWorkoutStored(s domain.WorkoutSession) {
	workoutsStored.Inc()
	if s.CompletedAt == nil || s.CompletedAt.IsZero() {
		return
	}
	workoutStoredGauge.Set(float64(s.CompletedAt.Unix()))
}

// RecordWorkoutDeleted counts a removed workout.
func RecordWorkoutDeleted() {
	workoutsDeleted.Inc()
}
