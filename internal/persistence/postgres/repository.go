// Package postgres is the backend's pgx repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/observability"
	"example.com/circuit/internal/templates"
)

var _ backend.Repository = (*Repository)(nil)

// Repository provides Postgres-backed persistence for workouts, bests and templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// withUser runs fn in a transaction whose row level security is scoped to userID.
func (r *Repository) withUser(ctx context.Context, userID string, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListWorkoutIDs implements backend.Repository.
func (r *Repository) ListWorkoutIDs(ctx context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT workout_id FROM workouts WHERE user_id=$1 ORDER BY workout_id`, userID)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return ids, err
}

// ListWorkouts implements backend.Repository.
func (r *Repository) ListWorkouts(ctx context.Context, userID string) ([]domain.WorkoutSession, error) {
	const query = `SELECT workout_id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, performances
        FROM workouts WHERE user_id=$1 ORDER BY started_at, workout_id`

	out := make([]domain.WorkoutSession, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				w   events.WorkoutCompleted
				raw []byte
			)
			if err := rows.Scan(&w.ID, &w.TemplateID, &w.TemplateName, &w.Rounds, &w.StartedAt, &w.CompletedAt, &w.TotalDuration, &w.TotalDistance, &raw); err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &w.Exercises); err != nil {
				return fmt.Errorf("decode performances of %s: %w", w.ID, err)
			}
			s := w.ToSession()
			s.Synced = true
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// UpsertWorkout implements backend.Repository.
func (r *Repository) UpsertWorkout(ctx context.Context, userID string, s domain.WorkoutSession) error {
	payload := events.FromSession(s)
	perfs, err := json.Marshal(payload.Exercises)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO workouts (user_id, workout_id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, performances, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
        ON CONFLICT (user_id, workout_id) DO UPDATE SET
            template_id=excluded.template_id, template_name=excluded.template_name, rounds=excluded.rounds,
            started_at=excluded.started_at, completed_at=excluded.completed_at,
            total_duration=excluded.total_duration, total_distance=excluded.total_distance,
            performances=excluded.performances, updated_at=now()`

	err = r.withUser(ctx, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, userID, s.ID, s.TemplateID, s.TemplateName, s.Rounds,
			s.StartedAt.UTC(), s.CompletedAt, s.TotalDuration, s.TotalDistance, perfs)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert workout %s: %w", s.ID, err)
	}
	observability.RecordWorkoutStored(s)
	return nil
}

// DeleteWorkout implements backend.Repository.
func (r *Repository) DeleteWorkout(ctx context.Context, userID, id string) (bool, error) {
	var removed bool
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM workouts WHERE user_id=$1 AND workout_id=$2`, userID, id)
		removed = tag.RowsAffected() > 0
		return err
	})
	if removed {
		observability.RecordWorkoutDeleted()
	}
	return removed, err
}

// ListPersonalBests implements backend.Repository.
func (r *Repository) ListPersonalBests(ctx context.Context, userID string) ([]domain.PersonalRecord, error) {
	const query = `SELECT record_key, exercise_name, best_value, unit, achieved_at, workout_id
        FROM personal_bests WHERE user_id=$1 ORDER BY record_key`

	out := make([]domain.PersonalRecord, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec := domain.PersonalRecord{Synced: true}
			if err := rows.Scan(&rec.Key, &rec.ExerciseName, &rec.BestValue, &rec.Unit, &rec.AchievedAt, &rec.WorkoutID); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// ReplacePersonalBests implements backend.Repository.
func (r *Repository) ReplacePersonalBests(ctx context.Context, userID string, recs []domain.PersonalRecord) error {
	return r.withUser(ctx, userID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM personal_bests WHERE user_id=$1`, userID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, rec := range recs {
			batch.Queue(`INSERT INTO personal_bests (user_id, record_key, exercise_name, best_value, unit, achieved_at, workout_id)
                VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				userID, rec.Key, rec.ExerciseName, rec.BestValue, domain.UnitSeconds, rec.AchievedAt.UTC(), rec.WorkoutID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ListTemplates implements backend.Repository.
func (r *Repository) ListTemplates(ctx context.Context, userID string) ([]domain.WorkoutTemplate, error) {
	const query = `SELECT template_id, name, rounds, exercises, updated_at
        FROM templates WHERE user_id=$1 ORDER BY name, template_id`

	out := make([]domain.WorkoutTemplate, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t   events.Template
				raw []byte
			)
			if err := rows.Scan(&t.ID, &t.Name, &t.Rounds, &raw, &t.UpdatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &t.Exercises); err != nil {
				return fmt.Errorf("decode exercises of template %s: %w", t.ID, err)
			}
			out = append(out, templates.Unflatten(t))
		}
		return rows.Err()
	})
	return out, err
}

// UpsertTemplate implements backend.Repository.
func (r *Repository) UpsertTemplate(ctx context.Context, userID string, t domain.WorkoutTemplate) error {
	exercises, err := json.Marshal(templates.Flatten(t).Exercises)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO templates (user_id, template_id, name, rounds, exercises, updated_at)
        VALUES ($1,$2,$3,$4,$5,now())
        ON CONFLICT (user_id, template_id) DO UPDATE SET
            name=excluded.name, rounds=excluded.rounds, exercises=excluded.exercises, updated_at=now()`

	return r.withUser(ctx, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, userID, t.ID, t.Name, t.Rounds, exercises)
		return err
	})
}

// DeleteTemplate implements backend.Repository.
func (r *Repository) DeleteTemplate(ctx context.Context, userID, id string) (bool, error) {
	var removed bool
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM templates WHERE user_id=$1 AND template_id=$2`, userID, id)
		removed = tag.RowsAffected() > 0
		return err
	})
	return removed, err
}
