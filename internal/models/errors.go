package models

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a unique constraint would be violated
	ErrConflict = errors.New("record already exists")

	// ErrUnknownField is returned when updating a lead field that is not defined
	ErrUnknownField = errors.New("unknown lead field")
)
