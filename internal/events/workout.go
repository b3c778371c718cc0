// Package events defines the payloads exchanged between host and companion.
package events

import (
	"time"

	"example.com/circuit/internal/domain"
)

// HeartRate is a single sensor sample.
type HeartRate struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ExerciseResult is one completed (or skipped) station inside a WorkoutCompleted payload.
type ExerciseResult struct {
	ID                string      `json:"id,omitempty"`
	Name              string      `json:"name"`
	TargetDistance    float64     `json:"target_distance,omitempty"`
	TargetRepetitions int         `json:"target_repetitions,omitempty"`
	TargetDuration    float64     `json:"target_duration,omitempty"`
	Duration          float64     `json:"duration"`
	Distance          float64     `json:"distance"`
	Repetitions       int         `json:"repetitions"`
	Round             int         `json:"round"`
	Order             int         `json:"order"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	IsRecord          bool        `json:"is_record,omitempty"`
	HeartRate         []HeartRate `json:"heart_rate"`
}

// WorkoutCompleted is emitted by either device when a session finishes. ID is the
// session id and is what receivers de-duplicate on.
type WorkoutCompleted struct {
	ID            string           `json:"id"`
	TemplateID    *string          `json:"template_id,omitempty"`
	TemplateName  string           `json:"template_name"`
	Rounds        int              `json:"rounds"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	TotalDuration float64          `json:"total_duration"`
	TotalDistance float64          `json:"total_distance"`
	Exercises     []ExerciseResult `json:"exercises"`
}

// EntityDeleted carries only the id of a removed workout or template.
type EntityDeleted struct {
	ID string `json:"id"`
}

// SessionState mirrors the host controller's progress to the companion.
type SessionState struct {
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	Version      uint64    `json:"version"`
	CurrentRound int       `json:"current_round"`
	CurrentIndex int       `json:"current_index"`
	Progress     float64   `json:"progress"`
	Elapsed      float64   `json:"elapsed"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// FromSession converts a session into its wire payload.
func FromSession(s domain.WorkoutSession) WorkoutCompleted {
	out := WorkoutCompleted{
		ID:            s.ID,
		TemplateID:    s.TemplateID,
		TemplateName:  s.TemplateName,
		Rounds:        s.Rounds,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		TotalDuration: s.TotalDuration,
		TotalDistance: s.TotalDistance,
		Exercises:     make([]ExerciseResult, 0, len(s.Performances)),
	}
	for _, p := range s.Chronological() {
		samples := make([]HeartRate, 0, len(p.HeartRate))
		for _, hr := range p.HeartRate {
			samples = append(samples, HeartRate{Value: hr.Value, Timestamp: hr.Timestamp})
		}
		out.Exercises = append(out.Exercises, ExerciseResult{
			ID:                p.ID,
			Name:              p.ExerciseName,
			TargetDistance:    p.TargetDistance,
			TargetRepetitions: p.TargetRepetitions,
			TargetDuration:    p.TargetDuration,
			Duration:          p.Duration,
			Distance:          p.Distance,
			Repetitions:       p.Repetitions,
			Round:             p.Round,
			Order:             p.Order,
			CompletedAt:       p.CompletedAt,
			IsRecord:          p.IsRecord,
			HeartRate:         samples,
		})
	}
	return out
}

// ToSession converts the payload back into a completed session owned by the receiver.
func (w WorkoutCompleted) ToSession() domain.WorkoutSession {
	s := domain.WorkoutSession{
		ID:            w.ID,
		TemplateID:    w.TemplateID,
		TemplateName:  w.TemplateName,
		Rounds:        w.Rounds,
		StartedAt:     w.StartedAt,
		CompletedAt:   w.CompletedAt,
		TotalDuration: w.TotalDuration,
		TotalDistance: w.TotalDistance,
		Performances:  make([]domain.ExercisePerformance, 0, len(w.Exercises)),
	}
	for _, ex := range w.Exercises {
		samples := make([]domain.HeartRateSample, 0, len(ex.HeartRate))
		for _, hr := range ex.HeartRate {
			samples = append(samples, domain.HeartRateSample{Value: hr.Value, Timestamp: hr.Timestamp})
		}
		s.Performances = append(s.Performances, domain.ExercisePerformance{
			ID:                ex.ID,
			ExerciseName:      ex.Name,
			TargetDistance:    ex.TargetDistance,
			TargetRepetitions: ex.TargetRepetitions,
			TargetDuration:    ex.TargetDuration,
			Round:             ex.Round,
			Order:             ex.Order,
			Duration:          ex.Duration,
			Distance:          ex.Distance,
			Repetitions:       ex.Repetitions,
			CompletedAt:       ex.CompletedAt,
			IsRecord:          ex.IsRecord,
			HeartRate:         samples,
		})
	}
	if s.Rounds == 0 {
		for _, p := range s.Performances {
			if p.Round > s.Rounds {
				s.Rounds = p.Round
			}
		}
	}
	return s.Clone()
}
