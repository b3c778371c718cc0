package domain

import "errors"

var (
	// ErrInvalidTemplate is returned when a template has no rounds or no exercises.
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrNoActiveSession is returned when an operation requires a running session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrSessionComplete is returned when every performance already has a completion timestamp.
	ErrSessionComplete = errors.New("all exercises already completed")
	// ErrNotFound is returned when an entity cannot be located in a store.
	ErrNotFound = errors.New("not found")
)
