package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrValidation     = errors.New("validation failed")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Session state errors
	// ErrExpired is distinct from ErrNotFound so clients can render
	// "request a new code" instead of "invalid link".
	ErrExpired = errors.New("session expired")

	// ErrInvalidCode is deliberately opaque: it covers malformed input,
	// a cryptographically wrong code and a replayed code alike.
	ErrInvalidCode = errors.New("invalid code")
)
