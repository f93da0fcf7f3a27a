package mock

import (
	"errors"
	"fmt"
)

// Error kinds shared by the stores and both HTTP surfaces.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
)

// Error carries a client-facing message together with its kind so callers
// can branch with errors.Is while still surfacing a readable message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Validationf builds an ErrValidation error.
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds an ErrConflict error.
func Conflictf(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// ErrEndpointNotFound is returned when an id or (path, method) pair is unknown.
var ErrEndpointNotFound = &Error{Kind: ErrNotFound, Message: "Endpoint not found"}

// ErrEndpointExists is returned when a (path, method) pair is already taken.
var ErrEndpointExists = &Error{Kind: ErrConflict, Message: "Endpoint already exists"}
