package state

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound covers both "absent" and "owned by someone else"; callers
	// must not be able to tell the two apart.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when an agent name collides within its
	// owner's scope.
	ErrDuplicateName = errors.New("agent name already in use")

	ErrUsernameTaken = errors.New("username already registered")
	ErrEmailTaken    = errors.New("email already registered")
)

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, constraint)
}
