// Package util provides logging and common error types.
package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the library failure taxonomy
var (
	// ErrUnavailable means the bus is absent or the service could not be
	// activated. Terminal for the lifetime of the backend.
	ErrUnavailable = errors.New("network backend unavailable")

	// ErrNotFound means a remote object path is not registered locally.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidInput means a locally-rejected malformed input. The
	// operation produces no remote call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrWrongState means an operation was rejected because the object is
	// not in a state that permits it.
	ErrWrongState = errors.New("operation not valid in current state")

	// ErrDiscarded means the target adapter was discarded while a call was
	// in flight. Continuations observing it return without side effects.
	ErrDiscarded = errors.New("object discarded")
)

// StateError reports an operation rejected due to the object's current state
type StateError struct {
	Operation string
	Object    string
	State     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s rejected: %s is %s", e.Operation, e.Object, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrWrongState
}

// NewStateError creates a state error
func NewStateError(operation, object, state string) *StateError {
	return &StateError{Operation: operation, Object: object, State: state}
}

// TransformError reports a wire value that could not be converted to its
// domain type. The owning cell keeps its previous value.
type TransformError struct {
	Property string
	Wire     string
	Reason   string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("cannot convert property %s from wire type %s: %s", e.Property, e.Wire, e.Reason)
}

func (e *TransformError) Unwrap() error {
	return ErrInvalidInput
}

// NewTransformError creates a transform error
func NewTransformError(property, wire, reason string) *TransformError {
	return &TransformError{Property: property, Wire: wire, Reason: reason}
}
