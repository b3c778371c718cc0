// Package domain holds the workout, template and record types shared by host, companion and backend.
package domain

import (
	"sort"
	"time"
)

// HeartRateSample is one reading from the companion's heart-rate sensor.
type HeartRateSample struct {
	Value     float64
	Timestamp time.Time
}

// ExercisePerformance is a single station in a single round of a session.
// Round is 1-based, Order is 0-based within the round.
type ExercisePerformance struct {
	ID                string
	ExerciseName      string
	TargetDistance    float64
	TargetRepetitions int
	TargetDuration    float64
	Round             int
	Order             int
	Duration          float64
	Distance          float64
	Repetitions       int
	CompletedAt       *time.Time
	IsRecord          bool
	HeartRate         []HeartRateSample
}

// Completed reports whether the performance has a completion timestamp.
func (p ExercisePerformance) Completed() bool {
	return p.CompletedAt != nil
}

// Before reports whether p precedes other chronologically.
func (p ExercisePerformance) Before(other ExercisePerformance) bool {
	if p.Round != other.Round {
		return p.Round < other.Round
	}
	return p.Order < other.Order
}

// WorkoutSession is one run through a template (or an ad-hoc circuit).
type WorkoutSession struct {
	ID            string
	TemplateID    *string
	TemplateName  string
	Rounds        int
	StartedAt     time.Time
	CompletedAt   *time.Time
	TotalDuration float64
	TotalDistance float64
	Performances  []ExercisePerformance
	Synced        bool
}

// NextIncomplete returns the index of the chronologically first performance without a
// completion timestamp, or -1 when every performance is complete. Ordering is by
// (round, order), never by slice position.
func (s *WorkoutSession) NextIncomplete() int {
	idx := -1
	for i, p := range s.Performances {
		if p.Completed() {
			continue
		}
		if idx == -1 || p.Before(s.Performances[idx]) {
			idx = i
		}
	}
	return idx
}

// LastCompleted returns the index of the chronologically last completed performance,
// or -1 when nothing is complete yet.
func (s *WorkoutSession) LastCompleted() int {
	idx := -1
	for i, p := range s.Performances {
		if !p.Completed() {
			continue
		}
		if idx == -1 || s.Performances[idx].Before(p) {
			idx = i
		}
	}
	return idx
}

// CompletedCount returns the number of completed performances.
func (s *WorkoutSession) CompletedCount() int {
	n := 0
	for _, p := range s.Performances {
		if p.Completed() {
			n++
		}
	}
	return n
}

// Progress is completed/total in [0, 1].
func (s *WorkoutSession) Progress() float64 {
	if len(s.Performances) == 0 {
		return 0
	}
	return float64(s.CompletedCount()) / float64(len(s.Performances))
}

// MeasuredTotals sums measured durations and distances over all performances.
func (s *WorkoutSession) MeasuredTotals() (duration, distance float64) {
	for _, p := range s.Performances {
		duration += p.Duration
		distance += p.Distance
	}
	return duration, distance
}

// Chronological returns the performances sorted by (round, order).
func (s *WorkoutSession) Chronological() []ExercisePerformance {
	out := make([]ExercisePerformance, len(s.Performances))
	copy(out, s.Performances)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Clone returns a deep copy so callers never share mutable state with a controller.
func (s WorkoutSession) Clone() WorkoutSession {
	out := s
	if s.TemplateID != nil {
		id := *s.TemplateID
		out.TemplateID = &id
	}
	if s.CompletedAt != nil {
		ts := *s.CompletedAt
		out.CompletedAt = &ts
	}
	out.Performances = make([]ExercisePerformance, len(s.Performances))
	for i, p := range s.Performances {
		cp := p
		if p.CompletedAt != nil {
			ts := *p.CompletedAt
			cp.CompletedAt = &ts
		}
		if p.HeartRate != nil {
			cp.HeartRate = make([]HeartRateSample, len(p.HeartRate))
			copy(cp.HeartRate, p.HeartRate)
		}
		out.Performances[i] = cp
	}
	return out
}
