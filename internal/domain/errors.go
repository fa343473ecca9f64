package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")
	ErrInvalidInput = errors.New("domain: invalid input")
)

// Write failure kinds. A failed append always wraps ErrWriteFailed together
// with exactly one of the kinds below (or ErrConflict) so callers can choose
// between retrying and aborting.
var (
	ErrWriteFailed = errors.New("domain: write failed")
	ErrLockTimeout = errors.New("domain: lock timeout")
	ErrUnavailable = errors.New("domain: store unavailable")
)
