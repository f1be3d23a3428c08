package ports

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an append-only key or a unique id already exists.
	ErrConflict = errors.New("conflict")
)
