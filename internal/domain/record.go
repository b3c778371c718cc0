package domain

import "time"

// UnitSeconds is the only unit personal records are tracked in.
const UnitSeconds = "s"

// PersonalRecord is the best (lowest duration) performance for a variant key.
type PersonalRecord struct {
	Key          string
	ExerciseName string
	BestValue    float64
	Unit         string
	AchievedAt   time.Time
	WorkoutID    string
	Synced       bool
}

// Goal is a user training goal mirrored to the companion.
type Goal struct {
	ID             string
	Title          string
	ExerciseName   string
	TargetDuration float64
	WeeklySessions int
	UpdatedAt      time.Time
}
