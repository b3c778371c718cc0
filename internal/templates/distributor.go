// Package templates keeps the companion's template cache in step with the host.
package templates

import (
	"context"
	"fmt"
	"log"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/peer"
)

// Sender is the subset of the peer channel the distributor needs.
type Sender interface {
	Send(ctx context.Context, msg peer.Message) error
}

// Source lists the templates currently known to the host.
type Source interface {
	ListTemplates(ctx context.Context) ([]domain.WorkoutTemplate, error)
}

// Distributor pushes template changes to the companion.
type Distributor struct {
	sender Sender
	source Source
	logger *log.Logger
}

// NewDistributor constructs a Distributor.
func NewDistributor(sender Sender, source Source, logger *log.Logger) *Distributor {
	if logger == nil {
		logger = log.New(log.Writer(), "[templates] ", log.LstdFlags|log.Lshortfile)
	}
	return &Distributor{sender: sender, source: source, logger: logger}
}

// Created announces a new template.
func (d *Distributor) Created(ctx context.Context, t domain.WorkoutTemplate) error {
	return d.push(ctx, []domain.WorkoutTemplate{t}, false)
}

// Edited announces a changed template.
func (d *Distributor) Edited(ctx context.Context, t domain.WorkoutTemplate) error {
	return d.push(ctx, []domain.WorkoutTemplate{t}, false)
}

// Deleted announces a removed template. The message is queued while the companion
// is unreachable.
func (d *Distributor) Deleted(ctx context.Context, id string) error {
	msg, err := peer.NewMessage(peer.TypeTemplateDeleted, id, events.EntityDeleted{ID: id})
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

// PushAll answers requestTemplates with the complete set.
func (d *Distributor) PushAll(ctx context.Context) error {
	all, err := d.source.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	return d.push(ctx, all, true)
}

func (d *Distributor) push(ctx context.Context, ts []domain.WorkoutTemplate, complete bool) error {
	payload := events.TemplatesPushed{Templates: make([]events.Template, 0, len(ts)), Complete: complete}
	for _, t := range ts {
		payload.Templates = append(payload.Templates, Flatten(t))
	}
	msg, err := peer.NewMessage(peer.TypePushTemplates, "", payload)
	if err != nil {
		return err
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return err
	}
	d.logger.Printf("pushed %d templates (complete=%t)", len(ts), complete)
	return nil
}

// Flatten converts a template into the companion payload, exercises in Order.
// Zero targets are left unset.
func Flatten(t domain.WorkoutTemplate) events.Template {
	out := events.Template{
		ID:        t.ID,
		Name:      t.Name,
		Rounds:    t.Rounds,
		UpdatedAt: t.UpdatedAt,
		Exercises: make([]events.TemplateExercise, 0, len(t.Exercises)),
	}
	for _, ex := range t.OrderedExercises() {
		item := events.TemplateExercise{Name: ex.Name, Order: ex.Order}
		if ex.TargetDistance > 0 {
			v := ex.TargetDistance
			item.TargetDistance = &v
		}
		if ex.TargetRepetitions > 0 {
			v := ex.TargetRepetitions
			item.TargetRepetitions = &v
		}
		if ex.TargetDuration > 0 {
			v := ex.TargetDuration
			item.TargetDuration = &v
		}
		out.Exercises = append(out.Exercises, item)
	}
	return out
}

// Same reports whether a and b describe the same template, ignoring UpdatedAt.
func Same(a, b domain.WorkoutTemplate) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Rounds != b.Rounds || len(a.Exercises) != len(b.Exercises) {
		return false
	}
	ae, be := a.OrderedExercises(), b.OrderedExercises()
	for i := range ae {
		if ae[i] != be[i] {
			return false
		}
	}
	return true
}

// Unflatten is the inverse of Flatten.
func Unflatten(p events.Template) domain.WorkoutTemplate {
	out := domain.WorkoutTemplate{
		ID:        p.ID,
		Name:      p.Name,
		Rounds:    p.Rounds,
		UpdatedAt: p.UpdatedAt,
		Exercises: make([]domain.TemplateExerciseSpec, 0, len(p.Exercises)),
	}
	for _, ex := range p.Exercises {
		spec := domain.TemplateExerciseSpec{Name: ex.Name, Order: ex.Order}
		if ex.TargetDistance != nil {
			spec.TargetDistance = *ex.TargetDistance
		}
		if ex.TargetRepetitions != nil {
			spec.TargetRepetitions = *ex.TargetRepetitions
		}
		if ex.TargetDuration != nil {
			spec.TargetDuration = *ex.TargetDuration
		}
		out.Exercises = append(out.Exercises, spec)
	}
	return out
}

// UnflattenAll converts a pushed batch.
func UnflattenAll(p events.TemplatesPushed) []domain.WorkoutTemplate {
	out := make([]domain.WorkoutTemplate, 0, len(p.Templates))
	for _, t := range p.Templates {
		out = append(out, Unflatten(t))
	}
	return out
}
