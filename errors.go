package bearerauth

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenMissing is returned when no bearer token was presented.
	// Callers use it to distinguish "no credential" from "bad credential".
	ErrTokenMissing = errors.New("bearer token missing")

	// ErrTokenInvalid is the uniform failure for any token that did not
	// verify. The specific kind is never surfaced to end callers; it is
	// retained in the wrapped error for internal diagnostics.
	ErrTokenInvalid = errors.New("authentication failed")
)

// invalidError wraps a verification failure so that errors.Is matches
// ErrTokenInvalid while Unwrap still exposes the underlying kind for
// logging and tests.
type invalidError struct {
	details error
}

// Is allows the error to support equality to ErrTokenInvalid.
func (e *invalidError) Is(target error) bool {
	return target == ErrTokenInvalid
}

func (e *invalidError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTokenInvalid, e.details)
}

func (e *invalidError) Unwrap() error {
	return e.details
}
