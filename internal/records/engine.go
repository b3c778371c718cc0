package records

import (
	"sort"
	"sync"
	"time"

	"example.com/circuit/internal/domain"
)

// Observation is one historical completed performance as seen by the engine.
type Observation struct {
	Key          string
	ExerciseName string
	Duration     float64
	AchievedAt   time.Time
	WorkoutID    string
}

// Engine tracks the lowest duration per variant key. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	history []Observation
	best    map[string]domain.PersonalRecord
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	return &Engine{best: make(map[string]domain.PersonalRecord)}
}

// KeyFor derives the variant key of a performance from its target parameters.
func KeyFor(p domain.ExercisePerformance) string {
	return VariantKey(p.ExerciseName, p.TargetDistance, p.TargetRepetitions)
}

// BestFor returns the current best for key.
func (e *Engine) BestFor(key string) (domain.PersonalRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.best[key]
	return rec, ok
}

// IsRecord reports whether duration would beat the best known for key. A key with
// no history has nothing to beat, so the first performance is never flagged.
func (e *Engine) IsRecord(key string, duration float64) bool {
	if duration <= 0 {
		return false
	}
	rec, ok := e.BestFor(key)
	return ok && duration < rec.BestValue
}

// Observe adds a completed performance to the history and returns the record it set,
// if any. Ties keep the earlier entry.
func (e *Engine) Observe(obs Observation) (domain.PersonalRecord, bool) {
	if obs.Duration <= 0 {
		return domain.PersonalRecord{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observeLocked(obs)
}

func (e *Engine) observeLocked(obs Observation) (domain.PersonalRecord, bool) {
	e.history = append(e.history, obs)

	current, ok := e.best[obs.Key]
	if ok && !beats(obs, current) {
		return domain.PersonalRecord{}, false
	}

	rec := domain.PersonalRecord{
		Key:          obs.Key,
		ExerciseName: obs.ExerciseName,
		BestValue:    obs.Duration,
		Unit:         domain.UnitSeconds,
		AchievedAt:   obs.AchievedAt,
		WorkoutID:    obs.WorkoutID,
	}
	e.best[obs.Key] = rec
	return rec, true
}

// EvaluateAndObserve flags a performance against prior history and then records it,
// atomically with respect to other callers.
func (e *Engine) EvaluateAndObserve(workoutID string, p domain.ExercisePerformance) (isRecord bool, rec domain.PersonalRecord, improved bool) {
	if p.Duration <= 0 {
		return false, domain.PersonalRecord{}, false
	}
	key := KeyFor(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	prior, ok := e.best[key]
	isRecord = ok && p.Duration < prior.BestValue

	achieved := time.Time{}
	if p.CompletedAt != nil {
		achieved = *p.CompletedAt
	}
	rec, improved = e.observeLocked(Observation{
		Key:          key,
		ExerciseName: p.ExerciseName,
		Duration:     p.Duration,
		AchievedAt:   achieved,
		WorkoutID:    workoutID,
	})
	return isRecord, rec, improved
}

// ObserveSession records every completed performance of a session in chronological order.
// It returns the records the session set.
func (e *Engine) ObserveSession(s domain.WorkoutSession) []domain.PersonalRecord {
	_, set := e.ScoreSession(s)
	return set
}

// ScoreSession observes a session and returns a copy with IsRecord recomputed
// against prior history, plus the records the session set.
func (e *Engine) ScoreSession(s domain.WorkoutSession) (domain.WorkoutSession, []domain.PersonalRecord) {
	scored := s.Clone()
	set := make(map[string]domain.PersonalRecord)
	order := make([]int, len(scored.Performances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scored.Performances[order[i]].Before(scored.Performances[order[j]])
	})

	for _, i := range order {
		p := &scored.Performances[i]
		if !p.Completed() {
			p.IsRecord = false
			continue
		}
		isRecord, rec, improved := e.EvaluateAndObserve(s.ID, *p)
		p.IsRecord = isRecord
		if improved {
			set[rec.Key] = rec
		}
	}
	return scored, sortedRecords(set)
}

// Detailed groups history strictly by variant key.
func (e *Engine) Detailed() []domain.PersonalRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return minimumBy(e.history, func(o Observation) string { return o.Key })
}

// Combined groups history by exercise name, taking the minimum across every variant of
// that exercise. The result is recomputed from history, not derived from Detailed.
func (e *Engine) Combined() []domain.PersonalRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return minimumBy(e.history, func(o Observation) string { return o.ExerciseName })
}

// ApplyBackend replaces local state with the backend's recomputed records. This is the
// only path that may raise a best.
func (e *Engine) ApplyBackend(recs []domain.PersonalRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = e.history[:0]
	e.best = make(map[string]domain.PersonalRecord, len(recs))
	for _, rec := range recs {
		if rec.BestValue <= 0 {
			continue
		}
		name := rec.ExerciseName
		if name == "" {
			name = exerciseFromKey(rec.Key)
		}
		e.observeLocked(Observation{
			Key:          rec.Key,
			ExerciseName: name,
			Duration:     rec.BestValue,
			AchievedAt:   rec.AchievedAt,
			WorkoutID:    rec.WorkoutID,
		})
	}
}

// Rebuild re-derives every best from the supplied sessions, discarding current state.
func (e *Engine) Rebuild(sessions []domain.WorkoutSession) {
	e.mu.Lock()
	e.history = e.history[:0]
	e.best = make(map[string]domain.PersonalRecord)
	e.mu.Unlock()

	ordered := make([]domain.WorkoutSession, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartedAt.Before(ordered[j].StartedAt) })
	for _, s := range ordered {
		e.ObserveSession(s)
	}
}

// All returns the current bests sorted by key.
func (e *Engine) All() []domain.PersonalRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedRecords(e.best)
}

func beats(obs Observation, current domain.PersonalRecord) bool {
	if obs.Duration != current.BestValue {
		return obs.Duration < current.BestValue
	}
	// Equal durations: an earlier achievement replaces a later one so that the
	// earliest entry wins regardless of observation order.
	return !obs.AchievedAt.IsZero() && !current.AchievedAt.IsZero() && obs.AchievedAt.Before(current.AchievedAt)
}

func minimumBy(history []Observation, group func(Observation) string) []domain.PersonalRecord {
	out := make(map[string]domain.PersonalRecord)
	for _, obs := range history {
		g := group(obs)
		current, ok := out[g]
		if ok && !beats(obs, current) {
			continue
		}
		out[g] = domain.PersonalRecord{
			Key:          g,
			ExerciseName: obs.ExerciseName,
			BestValue:    obs.Duration,
			Unit:         domain.UnitSeconds,
			AchievedAt:   obs.AchievedAt,
			WorkoutID:    obs.WorkoutID,
		}
	}
	return sortedRecords(out)
}

func sortedRecords(m map[string]domain.PersonalRecord) []domain.PersonalRecord {
	out := make([]domain.PersonalRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
