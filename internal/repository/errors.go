package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the database rejected a value.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)
