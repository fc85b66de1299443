package actor

import "errors"

var (
	// ErrTimeout is returned when an Ask is not answered in time.
	ErrTimeout = errors.New("actor: ask timed out")
	// ErrStopped is returned when the addressed actor is stopped.
	ErrStopped = errors.New("actor: stopped")
	// ErrNameTaken is returned when spawning an actor under a used name.
	ErrNameTaken = errors.New("actor: name already taken")
	// ErrNotFound is returned when no actor is registered under a name.
	ErrNotFound = errors.New("actor: not found")
)
