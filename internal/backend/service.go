// Package backend implements the remote store of record: per-user workouts,
// templates and the personal bests recomputed from stored workouts.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/records"
)

// ErrInvalidWorkout is returned when an upload cannot be stored.
var ErrInvalidWorkout = errors.New("invalid workout")

// Repository captures persistence operations. Every call is scoped to one user.
type Repository interface {
	ListWorkoutIDs(ctx context.Context, userID string) ([]string, error)
	ListWorkouts(ctx context.Context, userID string) ([]domain.WorkoutSession, error)
	UpsertWorkout(ctx context.Context, userID string, s domain.WorkoutSession) error
	DeleteWorkout(ctx context.Context, userID, id string) (bool, error)
	ListPersonalBests(ctx context.Context, userID string) ([]domain.PersonalRecord, error)
	ReplacePersonalBests(ctx context.Context, userID string, recs []domain.PersonalRecord) error
	ListTemplates(ctx context.Context, userID string) ([]domain.WorkoutTemplate, error)
	UpsertTemplate(ctx context.Context, userID string, t domain.WorkoutTemplate) error
	DeleteTemplate(ctx context.Context, userID, id string) (bool, error)
}

// Service orchestrates backend workflows.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListWorkoutIDs returns the authoritative id set for userID.
func (s *Service) ListWorkoutIDs(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListWorkoutIDs(ctx, userID)
}

// UpsertWorkout stores a completed session and recomputes the user's bests.
// Re-uploading the same id replaces the stored copy.
func (s *Service) UpsertWorkout(ctx context.Context, userID string, w domain.WorkoutSession) error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidWorkout)
	}
	if w.CompletedAt == nil {
		return fmt.Errorf("%w: session %s is not completed", ErrInvalidWorkout, w.ID)
	}
	w.Synced = true
	if err := s.repo.UpsertWorkout(ctx, userID, w); err != nil {
		return err
	}
	return s.recompute(ctx, userID)
}

// DeleteWorkout removes a session. Deleting an unknown id is not an error.
func (s *Service) DeleteWorkout(ctx context.Context, userID, id string) error {
	removed, err := s.repo.DeleteWorkout(ctx, userID, id)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	return s.recompute(ctx, userID)
}

// ListPersonalBests returns the user's bests.
func (s *Service) ListPersonalBests(ctx context.Context, userID string) ([]domain.PersonalRecord, error) {
	return s.repo.ListPersonalBests(ctx, userID)
}

// ReportPersonalBest accepts a device-computed best. It only lowers a stored best;
// raising one happens exclusively through recomputation.
func (s *Service) ReportPersonalBest(ctx context.Context, userID string, rec domain.PersonalRecord) error {
	if strings.TrimSpace(rec.Key) == "" || rec.BestValue <= 0 {
		return fmt.Errorf("%w: personal best needs a key and a positive value", ErrInvalidWorkout)
	}
	current, err := s.repo.ListPersonalBests(ctx, userID)
	if err != nil {
		return err
	}

	merged := make([]domain.PersonalRecord, 0, len(current)+1)
	found := false
	for _, c := range current {
		if c.Key == rec.Key {
			found = true
			if rec.BestValue < c.BestValue {
				c = rec
			}
		}
		merged = append(merged, c)
	}
	if !found {
		merged = append(merged, rec)
	}
	for i := range merged {
		merged[i].Unit = domain.UnitSeconds
		merged[i].Synced = true
	}
	return s.repo.ReplacePersonalBests(ctx, userID, merged)
}

// ListTemplates returns the templates assigned to the user.
func (s *Service) ListTemplates(ctx context.Context, userID string) ([]domain.WorkoutTemplate, error) {
	return s.repo.ListTemplates(ctx, userID)
}

// UpsertTemplate validates and stores a template.
func (s *Service) UpsertTemplate(ctx context.Context, userID string, t domain.WorkoutTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.repo.UpsertTemplate(ctx, userID, t)
}

// DeleteTemplate removes a template. Deleting an unknown id is not an error.
func (s *Service) DeleteTemplate(ctx context.Context, userID, id string) error {
	_, err := s.repo.DeleteTemplate(ctx, userID, id)
	return err
}

func (s *Service) recompute(ctx context.Context, userID string) error {
	workouts, err := s.repo.ListWorkouts(ctx, userID)
	if err != nil {
		return fmt.Errorf("load workouts for recompute: %w", err)
	}
	engine := records.NewEngine()
	engine.Rebuild(workouts)

	bests := engine.All()
	for i := range bests {
		bests[i].Synced = true
	}
	if err := s.repo.ReplacePersonalBests(ctx, userID, bests); err != nil {
		return fmt.Errorf("store recomputed bests: %w", err)
	}
	recordRecompute(len(bests))
	return nil
}
