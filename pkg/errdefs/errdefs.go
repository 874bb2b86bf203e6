// Package errdefs holds the error kinds shared across the case engines.
// Callers classify failures with errors.Is against the sentinels.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers absent workflows, cases, transitions and handlers.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput covers malformed requests, unknown status codes and
	// missing mandatory comments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPreconditionFailed covers transitions blocked by incomplete
	// mandatory tasks.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict covers duplicate unique keys. Idempotent inbox inserts
	// treat it as already-applied rather than a failure.
	ErrConflict = errors.New("conflict")
)

func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

func InvalidInput(format string, args ...interface{}) error {
	return wrap(ErrInvalidInput, format, args...)
}

func PreconditionFailed(format string, args ...interface{}) error {
	return wrap(ErrPreconditionFailed, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflict, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
