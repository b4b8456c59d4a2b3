package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when inserting an account whose email
	// is already registered.
	ErrDuplicateEmail = errors.New("duplicate email")
)
