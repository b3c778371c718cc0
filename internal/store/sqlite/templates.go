package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"example.com/circuit/internal/domain"
)

// SaveTemplate creates or replaces a template and its exercises.
func (s *Store) SaveTemplate(ctx context.Context, t domain.WorkoutTemplate) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertTemplate(ctx, tx, t)
	})
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

// ReplaceTemplates swaps the whole cached template set for ts in one transaction.
func (s *Store) ReplaceTemplates(ctx context.Context, ts []domain.WorkoutTemplate) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates`); err != nil {
			return err
		}
		for _, t := range ts {
			if t.UpdatedAt.IsZero() {
				t.UpdatedAt = s.now().UTC()
			}
			if err := upsertTemplate(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace templates: %w", err)
	}
	return nil
}

func upsertTemplate(ctx context.Context, tx *sql.Tx, t domain.WorkoutTemplate) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO templates (id, name, rounds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, rounds = excluded.rounds, updated_at = excluded.updated_at
	`, t.ID, t.Name, t.Rounds, formatTime(t.UpdatedAt)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_exercises WHERE template_id = ?`, t.ID); err != nil {
		return err
	}
	for i, ex := range t.Exercises {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO template_exercises
			(template_id, idx, name, sort_order, target_distance, target_repetitions, target_duration)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.ID, i, ex.Name, ex.Order, ex.TargetDistance, ex.TargetRepetitions, ex.TargetDuration); err != nil {
			return err
		}
	}
	return nil
}

// GetTemplate loads one template.
func (s *Store) GetTemplate(ctx context.Context, id string) (domain.WorkoutTemplate, error) {
	var (
		t         domain.WorkoutTemplate
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, rounds, updated_at FROM templates WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Rounds, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkoutTemplate{}, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.WorkoutTemplate{}, fmt.Errorf("get template %s: %w", id, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.WorkoutTemplate{}, err
	}
	if t.Exercises, err = s.loadTemplateExercises(ctx, id); err != nil {
		return domain.WorkoutTemplate{}, err
	}
	return t, nil
}

// ListTemplates returns every cached template ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.WorkoutTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, rounds, updated_at FROM templates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]domain.WorkoutTemplate, 0)
	for rows.Next() {
		var (
			t         domain.WorkoutTemplate
			updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Rounds, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range templates {
		if templates[i].Exercises, err = s.loadTemplateExercises(ctx, templates[i].ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// DeleteTemplate removes a template. Deleting a missing id is not an error.
func (s *Store) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete template %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) loadTemplateExercises(ctx context.Context, templateID string) ([]domain.TemplateExerciseSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sort_order, target_distance, target_repetitions, target_duration
		FROM template_exercises WHERE template_id = ? ORDER BY idx
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("load exercises for template %s: %w", templateID, err)
	}
	defer rows.Close()

	exercises := make([]domain.TemplateExerciseSpec, 0)
	for rows.Next() {
		var ex domain.TemplateExerciseSpec
		if err := rows.Scan(&ex.Name, &ex.Order, &ex.TargetDistance, &ex.TargetRepetitions, &ex.TargetDuration); err != nil {
			return nil, err
		}
		exercises = append(exercises, ex)
	}
	return exercises, rows.Err()
}
