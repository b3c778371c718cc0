package events

import (
	"time"

	"example.com/circuit/internal/domain"
)

// TemplateExercise is the companion's denormalized view of one template station.
// Unset targets are omitted rather than sent as zero.
type TemplateExercise struct {
	Name              string   `json:"name"`
	Order             int      `json:"order"`
	TargetDistance    *float64 `json:"target_distance,omitempty"`
	TargetRepetitions *int     `json:"target_repetitions,omitempty"`
	TargetDuration    *float64 `json:"target_duration,omitempty"`
}

// Template is the payload pushed to the companion so it can run a workout offline.
type Template struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Rounds    int                `json:"rounds"`
	Exercises []TemplateExercise `json:"exercises"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// TemplatesPushed answers requestTemplates or announces a created/edited template.
type TemplatesPushed struct {
	Templates []Template `json:"templates"`
	Complete  bool       `json:"complete"`
}

// Goal is the wire form of domain.Goal.
type Goal struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ExerciseName   string    `json:"exercise_name,omitempty"`
	TargetDuration float64   `json:"target_duration,omitempty"`
	WeeklySessions int       `json:"weekly_sessions,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GoalsPushed answers requestGoals.
type GoalsPushed struct {
	Goals []Goal `json:"goals"`
}

// PersonalBest is the wire form of domain.PersonalRecord.
type PersonalBest struct {
	Key          string    `json:"key"`
	ExerciseName string    `json:"exercise_name"`
	BestValue    float64   `json:"best_value"`
	Unit         string    `json:"unit"`
	AchievedAt   time.Time `json:"achieved_at"`
	WorkoutID    string    `json:"workout_id,omitempty"`
}

// PersonalBestsPushed answers requestPersonalBests.
type PersonalBestsPushed struct {
	Records []PersonalBest `json:"records"`
}

// FromGoals converts domain goals to their wire form.
func FromGoals(goals []domain.Goal) GoalsPushed {
	out := GoalsPushed{Goals: make([]Goal, 0, len(goals))}
	for _, g := range goals {
		out.Goals = append(out.Goals, Goal{
			ID:             g.ID,
			Title:          g.Title,
			ExerciseName:   g.ExerciseName,
			TargetDuration: g.TargetDuration,
			WeeklySessions: g.WeeklySessions,
			UpdatedAt:      g.UpdatedAt,
		})
	}
	return out
}

// ToDomain converts pushed goals back to domain goals.
func (g GoalsPushed) ToDomain() []domain.Goal {
	out := make([]domain.Goal, 0, len(g.Goals))
	for _, goal := range g.Goals {
		out = append(out, domain.Goal{
			ID:             goal.ID,
			Title:          goal.Title,
			ExerciseName:   goal.ExerciseName,
			TargetDuration: goal.TargetDuration,
			WeeklySessions: goal.WeeklySessions,
			UpdatedAt:      goal.UpdatedAt,
		})
	}
	return out
}

// FromRecords converts personal records to their wire form.
func FromRecords(recs []domain.PersonalRecord) PersonalBestsPushed {
	out := PersonalBestsPushed{Records: make([]PersonalBest, 0, len(recs))}
	for _, r := range recs {
		out.Records = append(out.Records, PersonalBest{
			Key:          r.Key,
			ExerciseName: r.ExerciseName,
			BestValue:    r.BestValue,
			Unit:         r.Unit,
			AchievedAt:   r.AchievedAt,
			WorkoutID:    r.WorkoutID,
		})
	}
	return out
}

// ToDomain converts pushed bests back to personal records. The host is the sync
// authority for records, so the companion stores them as synced.
func (p PersonalBestsPushed) ToDomain() []domain.PersonalRecord {
	out := make([]domain.PersonalRecord, 0, len(p.Records))
	for _, r := range p.Records {
		out = append(out, domain.PersonalRecord{
			Key:          r.Key,
			ExerciseName: r.ExerciseName,
			BestValue:    r.BestValue,
			Unit:         r.Unit,
			AchievedAt:   r.AchievedAt,
			WorkoutID:    r.WorkoutID,
			Synced:       true,
		})
	}
	return out
}
