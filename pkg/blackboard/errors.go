package blackboard

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store failures fall into a small taxonomy. Implementations wrap these
// sentinels so callers can branch with errors.Is.
var (
	// ErrNotFound means the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a status change is not allowed from the current status
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict means a record with the same identity already exists
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means the backing store could not be reached
	ErrUnavailable = errors.New("store unavailable")
)

// IsNotFound returns true if the error is a not-found error from any store,
// including a bare redis.Nil.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}

// unavailable wraps a backend failure so it matches ErrUnavailable while keeping the cause.
func unavailable(action string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", action, ErrUnavailable, err)
}
