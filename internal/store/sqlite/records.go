package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"example.com/circuit/internal/domain"
)

// SaveRecords upserts personal records by key.
func (s *Store) SaveRecords(ctx context.Context, recs []domain.PersonalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if err := upsertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save personal records: %w", err)
	}
	return nil
}

// ReplaceRecords swaps every stored record for recs.
func (s *Store) ReplaceRecords(ctx context.Context, recs []domain.PersonalRecord) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM personal_records`); err != nil {
			return err
		}
		for _, rec := range recs {
			if err := upsertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace personal records: %w", err)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, rec domain.PersonalRecord) error {
	unit := rec.Unit
	if unit == "" {
		unit = domain.UnitSeconds
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO personal_records (key, exercise_name, best_value, unit, achieved_at, workout_id, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			exercise_name = excluded.exercise_name,
			best_value = excluded.best_value,
			unit = excluded.unit,
			achieved_at = excluded.achieved_at,
			workout_id = excluded.workout_id,
			synced = excluded.synced
	`, rec.Key, rec.ExerciseName, rec.BestValue, unit, formatTime(rec.AchievedAt), rec.WorkoutID, boolInt(rec.Synced))
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.Key, err)
	}
	return nil
}

// ListRecords returns every stored record ordered by key.
func (s *Store) ListRecords(ctx context.Context) ([]domain.PersonalRecord, error) {
	return s.queryRecords(ctx, `
		SELECT key, exercise_name, best_value, unit, achieved_at, workout_id, synced
		FROM personal_records ORDER BY key
	`)
}

// UnsyncedRecords returns records not yet acknowledged by the backend.
func (s *Store) UnsyncedRecords(ctx context.Context) ([]domain.PersonalRecord, error) {
	return s.queryRecords(ctx, `
		SELECT key, exercise_name, best_value, unit, achieved_at, workout_id, synced
		FROM personal_records WHERE synced = 0 ORDER BY key
	`)
}

// MarkRecordSynced flags the record for key as acknowledged, unless it has been
// replaced by a different value since it was read.
func (s *Store) MarkRecordSynced(ctx context.Context, key string, bestValue float64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE personal_records SET synced = 1 WHERE key = ? AND best_value = ?`, key, bestValue); err != nil {
		return fmt.Errorf("mark record %s synced: %w", key, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string) ([]domain.PersonalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query personal records: %w", err)
	}
	defer rows.Close()

	recs := make([]domain.PersonalRecord, 0)
	for rows.Next() {
		var (
			rec        domain.PersonalRecord
			achievedAt string
			synced     int
		)
		if err := rows.Scan(&rec.Key, &rec.ExerciseName, &rec.BestValue, &rec.Unit, &achievedAt, &rec.WorkoutID, &synced); err != nil {
			return nil, err
		}
		if rec.AchievedAt, err = parseTime(achievedAt); err != nil {
			return nil, err
		}
		rec.Synced = synced == 1
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ReplaceGoals swaps every stored goal for goals.
func (s *Store) ReplaceGoals(ctx context.Context, goals []domain.Goal) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM goals`); err != nil {
			return err
		}
		for _, g := range goals {
			if err := upsertGoal(ctx, tx, g, s.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace goals: %w", err)
	}
	return nil
}

// SaveGoal creates or updates a single goal.
func (s *Store) SaveGoal(ctx context.Context, g domain.Goal) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertGoal(ctx, tx, g, s.now())
	})
	if err != nil {
		return fmt.Errorf("save goal %s: %w", g.ID, err)
	}
	return nil
}

func upsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal, now time.Time) error {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now.UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO goals (id, title, exercise_name, target_duration, weekly_sessions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			exercise_name = excluded.exercise_name,
			target_duration = excluded.target_duration,
			weekly_sessions = excluded.weekly_sessions,
			updated_at = excluded.updated_at
	`, g.ID, g.Title, g.ExerciseName, g.TargetDuration, g.WeeklySessions, formatTime(g.UpdatedAt))
	return err
}

// ListGoals returns every stored goal ordered by title.
func (s *Store) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, exercise_name, target_duration, weekly_sessions, updated_at
		FROM goals ORDER BY title, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	goals := make([]domain.Goal, 0)
	for rows.Next() {
		var (
			g         domain.Goal
			updatedAt string
		)
		if err := rows.Scan(&g.ID, &g.Title, &g.ExerciseName, &g.TargetDuration, &g.WeeklySessions, &updatedAt); err != nil {
			return nil, err
		}
		if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}
