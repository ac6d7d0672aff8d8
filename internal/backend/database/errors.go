package database

import "errors"

var (
	// ErrNotFound is returned when an image id does not resolve.
	ErrNotFound = errors.New("image not found")
	// ErrStorage wraps persistence failures such as referential integrity violations.
	ErrStorage = errors.New("storage error")
)
