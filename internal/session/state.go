package session

import "example.com/circuit/internal/domain"

// State is a controller lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateActive            State = "active"
	StateExerciseRunning   State = "exercise_running"
	StateExercisePaused    State = "exercise_paused"
	StateExerciseCompleted State = "exercise_completed"
	StateSessionCompleting State = "session_completing"
	StateSessionCompleted  State = "session_completed"
	StatePersisted         State = "persisted"
	StateCancelled         State = "cancelled"
)

// InProgress reports whether a session is held in memory and not yet persisted.
func (s State) InProgress() bool {
	switch s {
	case StateIdle, StatePersisted, StateCancelled:
		return false
	default:
		return true
	}
}

// Snapshot is a versioned, immutable copy of controller state. Version increases by
// one on every published change.
type Snapshot struct {
	Version         uint64
	State           State
	SessionID       string
	TemplateName    string
	CurrentRound    int
	CurrentIndex    int
	CurrentExercise string
	Completed       int
	Total           int
	Progress        float64
	Elapsed         float64
	ExerciseElapsed float64
	Session         *domain.WorkoutSession
}
