package backend

import (
	"context"
	"sort"
	"sync"

	"example.com/circuit/internal/domain"
)

// InMemoryRepository keeps per-user data in memory for local development and tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	workouts  map[string]map[string]domain.WorkoutSession
	bests     map[string][]domain.PersonalRecord
	templates map[string]map[string]domain.WorkoutTemplate
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		workouts:  make(map[string]map[string]domain.WorkoutSession),
		bests:     make(map[string][]domain.PersonalRecord),
		templates: make(map[string]map[string]domain.WorkoutTemplate),
	}
}

// ListWorkoutIDs implements Repository.
func (r *InMemoryRepository) ListWorkoutIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workouts[userID]))
	for id := range r.workouts[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListWorkouts implements Repository.
func (r *InMemoryRepository) ListWorkouts(_ context.Context, userID string) ([]domain.WorkoutSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WorkoutSession, 0, len(r.workouts[userID]))
	for _, w := range r.workouts[userID] {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// UpsertWorkout implements Repository.
func (r *InMemoryRepository) UpsertWorkout(_ context.Context, userID string, s domain.WorkoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workouts[userID] == nil {
		r.workouts[userID] = make(map[string]domain.WorkoutSession)
	}
	r.workouts[userID][s.ID] = s.Clone()
	return nil
}

// DeleteWorkout implements Repository.
func (r *InMemoryRepository) DeleteWorkout(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workouts[userID][id]; !ok {
		return false, nil
	}
	delete(r.workouts[userID], id)
	return true, nil
}

// ListPersonalBests implements Repository.
func (r *InMemoryRepository) ListPersonalBests(_ context.Context, userID string) ([]domain.PersonalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PersonalRecord, len(r.bests[userID]))
	copy(out, r.bests[userID])
	return out, nil
}

// ReplacePersonalBests implements Repository.
func (r *InMemoryRepository) ReplacePersonalBests(_ context.Context, userID string, recs []domain.PersonalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PersonalRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	r.bests[userID] = out
	return nil
}

// ListTemplates implements Repository.
func (r *InMemoryRepository) ListTemplates(_ context.Context, userID string) ([]domain.WorkoutTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WorkoutTemplate, 0, len(r.templates[userID]))
	for _, t := range r.templates[userID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertTemplate implements Repository.
func (r *InMemoryRepository) UpsertTemplate(_ context.Context, userID string, t domain.WorkoutTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.templates[userID] == nil {
		r.templates[userID] = make(map[string]domain.WorkoutTemplate)
	}
	exercises := make([]domain.TemplateExerciseSpec, len(t.Exercises))
	copy(exercises, t.Exercises)
	t.Exercises = exercises
	r.templates[userID][t.ID] = t
	return nil
}

// DeleteTemplate implements Repository.
func (r *InMemoryRepository) DeleteTemplate(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[userID][id]; !ok {
		return false, nil
	}
	delete(r.templates[userID], id)
	return true, nil
}
