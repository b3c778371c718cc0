package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemplateExerciseSpec is one station of a workout template.
type TemplateExerciseSpec struct {
	Name              string
	TargetDistance    float64
	TargetRepetitions int
	TargetDuration    float64
	Order             int
}

// WorkoutTemplate describes a station circuit repeated for a number of rounds.
type WorkoutTemplate struct {
	ID        string
	Name      string
	Rounds    int
	Exercises []TemplateExerciseSpec
	UpdatedAt time.Time
}

// Validate reports ErrInvalidTemplate when the template cannot produce a session.
func (t WorkoutTemplate) Validate() error {
	if t.Rounds <= 0 {
		return fmt.Errorf("%w: rounds must be > 0", ErrInvalidTemplate)
	}
	if len(t.Exercises) == 0 {
		return fmt.Errorf("%w: at least one exercise is required", ErrInvalidTemplate)
	}
	for i, ex := range t.Exercises {
		if strings.TrimSpace(ex.Name) == "" {
			return fmt.Errorf("%w: exercise %d has no name", ErrInvalidTemplate, i)
		}
	}
	return nil
}

// OrderedExercises returns a copy of the exercises sorted by Order, stable on ties.
func (t WorkoutTemplate) OrderedExercises() []TemplateExerciseSpec {
	out := make([]TemplateExerciseSpec, len(t.Exercises))
	copy(out, t.Exercises)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ExpandTemplate produces the rounds×exercises performance list in round-major order.
// Host and companion both call it so the two devices agree on ordering.
func ExpandTemplate(t WorkoutTemplate) ([]ExercisePerformance, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	exercises := t.OrderedExercises()
	out := make([]ExercisePerformance, 0, t.Rounds*len(exercises))
	for round := 1; round <= t.Rounds; round++ {
		for order, spec := range exercises {
			out = append(out, ExercisePerformance{
				ID:                uuid.NewString(),
				ExerciseName:      spec.Name,
				TargetDistance:    spec.TargetDistance,
				TargetRepetitions: spec.TargetRepetitions,
				TargetDuration:    spec.TargetDuration,
				Round:             round,
				Order:             order,
			})
		}
	}
	return out, nil
}
