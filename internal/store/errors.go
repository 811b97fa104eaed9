package store

import "errors"

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrCapacityExceeded is returned when adding a participant would exceed
	// the room's capacity.
	ErrCapacityExceeded = errors.New("store: room capacity exceeded")
	// ErrConflict is returned when a write loses to an exclusivity rule, such
	// as starting a timer session while one is already active.
	ErrConflict = errors.New("store: conflict")
)
