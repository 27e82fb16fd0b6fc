package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for event publication.
var (
	// ErrInvalidPattern is returned when a subscription pattern is empty
	// or malformed.
	ErrInvalidPattern = errors.New("invalid event pattern")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrHandlerPanic is matched by PanicError.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrPublisherClosed is returned when publishing through a closed
	// publisher.
	ErrPublisherClosed = errors.New("publisher is closed")
)

// PanicError wraps a panic raised by a handler.
type PanicError struct {
	// Pattern is the pattern the handler was subscribed with.
	Pattern string

	// Type is the type of the event being delivered.
	Type Type

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %q panicked on %s: %v", e.Pattern, e.Type, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
