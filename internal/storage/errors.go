package storage

import "errors"

// Storage errors shared by all backend implementations.
var (
	// ErrNotFound is returned when a requested token does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownCategory is returned for a category outside the known set.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnavailable is returned for transient failures (network, timeouts).
	// Callers may retry operations that fail with this error.
	ErrUnavailable = errors.New("backend unavailable")
)

// IsTransient reports whether err is retryable.
// Validation failures (ErrNotFound, ErrInvalidInput, ErrUnknownCategory)
// are permanent and must not be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
