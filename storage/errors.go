package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a create collides with an existing
	// key. Callers treat this as a benign lost race: the first writer wins.
	ErrAlreadyExists = errors.New("entity already exists")
)
