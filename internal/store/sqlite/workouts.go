package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/circuit/internal/domain"
)

type heartRateRow struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// SaveWorkout inserts a completed session with its performances. A session whose id
// already exists, or was deleted, is left untouched and reported as not inserted, so
// replays of the same payload produce at most one row.
func (s *Store) SaveWorkout(ctx context.Context, w domain.WorkoutSession) (bool, error) {
	inserted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO workouts
			(id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, synced)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM deleted_workouts WHERE id = ?)
			ON CONFLICT(id) DO NOTHING
		`,
			w.ID,
			nullString(w.TemplateID),
			w.TemplateName,
			w.Rounds,
			formatTime(w.StartedAt),
			formatNullTime(w.CompletedAt),
			w.TotalDuration,
			w.TotalDistance,
			boolInt(w.Synced),
			w.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		inserted = true

		for _, p := range w.Performances {
			if err := insertPerformance(ctx, tx, w.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save workout %s: %w", w.ID, err)
	}
	return inserted, nil
}

func insertPerformance(ctx context.Context, tx *sql.Tx, workoutID string, p domain.ExercisePerformance) error {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	samples := make([]heartRateRow, 0, len(p.HeartRate))
	for _, hr := range p.HeartRate {
		samples = append(samples, heartRateRow{Value: hr.Value, Timestamp: formatTime(hr.Timestamp)})
	}
	hrJSON, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("marshal heart rate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO performances
		(id, workout_id, exercise_name, target_distance, target_repetitions, target_duration,
		 round, position, duration, distance, repetitions, completed_at, is_record, heart_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		workoutID,
		p.ExerciseName,
		p.TargetDistance,
		p.TargetRepetitions,
		p.TargetDuration,
		p.Round,
		p.Order,
		p.Duration,
		p.Distance,
		p.Repetitions,
		formatNullTime(p.CompletedAt),
		boolInt(p.IsRecord),
		string(hrJSON),
	)
	if err != nil {
		return fmt.Errorf("insert performance %d/%d: %w", p.Round, p.Order, err)
	}
	return nil
}

// GetWorkout loads one session with its performances in chronological order.
func (s *Store) GetWorkout(ctx context.Context, id string) (domain.WorkoutSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, synced
		FROM workouts WHERE id = ?
	`, id)
	w, err := scanWorkout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkoutSession{}, fmt.Errorf("workout %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.WorkoutSession{}, fmt.Errorf("get workout %s: %w", id, err)
	}
	if w.Performances, err = s.loadPerformances(ctx, id); err != nil {
		return domain.WorkoutSession{}, err
	}
	return w, nil
}

// ListWorkouts returns every stored session ordered by start time.
func (s *Store) ListWorkouts(ctx context.Context) ([]domain.WorkoutSession, error) {
	return s.queryWorkouts(ctx, `
		SELECT id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, synced
		FROM workouts ORDER BY started_at, id
	`)
}

// UnsyncedWorkouts returns sessions not yet acknowledged by the backend.
func (s *Store) UnsyncedWorkouts(ctx context.Context) ([]domain.WorkoutSession, error) {
	return s.queryWorkouts(ctx, `
		SELECT id, template_id, template_name, rounds, started_at, completed_at, total_duration, total_distance, synced
		FROM workouts WHERE synced = 0 ORDER BY started_at, id
	`)
}

// SyncedWorkoutIDs lists the ids of sessions the backend has acknowledged.
func (s *Store) SyncedWorkoutIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workouts WHERE synced = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list synced workout ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkWorkoutSynced flags a session as acknowledged by the backend.
func (s *Store) MarkWorkoutSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workouts SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark workout %s synced: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workout %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteWorkout removes a session and its performances and leaves a tombstone so the
// id is never stored again. Deleting a missing id is not an error.
func (s *Store) DeleteWorkout(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM workouts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deleted_workouts (id, deleted_at) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, formatTime(s.now()))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete workout %s: %w", id, err)
	}
	return deleted, nil
}

// WorkoutDeleted reports whether id carries a deletion tombstone.
func (s *Store) WorkoutDeleted(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deleted_workouts WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check workout %s tombstone: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) queryWorkouts(ctx context.Context, query string, args ...any) ([]domain.WorkoutSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workouts: %w", err)
	}

	workouts := make([]domain.WorkoutSession, 0)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// The pool holds a single connection, so performances are loaded after the
	// outer cursor is released.
	for i := range workouts {
		perfs, err := s.loadPerformances(ctx, workouts[i].ID)
		if err != nil {
			return nil, err
		}
		workouts[i].Performances = perfs
	}
	return workouts, nil
}

func (s *Store) loadPerformances(ctx context.Context, workoutID string) ([]domain.ExercisePerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exercise_name, target_distance, target_repetitions, target_duration,
		       round, position, duration, distance, repetitions, completed_at, is_record, heart_rate
		FROM performances WHERE workout_id = ? ORDER BY round, position
	`, workoutID)
	if err != nil {
		return nil, fmt.Errorf("load performances for %s: %w", workoutID, err)
	}
	defer rows.Close()

	perfs := make([]domain.ExercisePerformance, 0)
	for rows.Next() {
		var (
			p           domain.ExercisePerformance
			completedAt sql.NullString
			isRecord    int
			hrJSON      string
		)
		if err := rows.Scan(&p.ID, &p.ExerciseName, &p.TargetDistance, &p.TargetRepetitions, &p.TargetDuration,
			&p.Round, &p.Order, &p.Duration, &p.Distance, &p.Repetitions, &completedAt, &isRecord, &hrJSON); err != nil {
			return nil, err
		}
		if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		p.IsRecord = isRecord == 1

		var samples []heartRateRow
		if err := json.Unmarshal([]byte(hrJSON), &samples); err != nil {
			return nil, fmt.Errorf("decode heart rate for %s: %w", p.ID, err)
		}
		for _, hr := range samples {
			ts, err := parseTime(hr.Timestamp)
			if err != nil {
				return nil, err
			}
			p.HeartRate = append(p.HeartRate, domain.HeartRateSample{Value: hr.Value, Timestamp: ts})
		}
		perfs = append(perfs, p)
	}
	return perfs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkout(row scanner) (domain.WorkoutSession, error) {
	var (
		w           domain.WorkoutSession
		templateID  sql.NullString
		startedAt   string
		completedAt sql.NullString
		synced      int
	)
	if err := row.Scan(&w.ID, &templateID, &w.TemplateName, &w.Rounds, &startedAt, &completedAt,
		&w.TotalDuration, &w.TotalDistance, &synced); err != nil {
		return domain.WorkoutSession{}, err
	}
	if templateID.Valid {
		id := templateID.String
		w.TemplateID = &id
	}
	var err error
	if w.StartedAt, err = parseTime(startedAt); err != nil {
		return domain.WorkoutSession{}, err
	}
	if w.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.WorkoutSession{}, err
	}
	w.Synced = synced == 1
	return w, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
