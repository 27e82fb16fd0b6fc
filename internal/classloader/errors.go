package classloader

import (
	"errors"
	"fmt"
)

// Class loader errors.
var (
	// ErrClassNotFound matches every ClassNotFoundError.
	ErrClassNotFound = errors.New("class not found")

	// ErrInvalidArgument is returned when a loader is constructed with bad input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLoaderClosed is returned by lookups on a closed loader.
	ErrLoaderClosed = errors.New("class loader is closed")
)

// ClassNotFoundError reports a class that no provider could supply.
type ClassNotFoundError struct {
	Name   string
	Loader string
	Err    error
}

func (e *ClassNotFoundError) Error() string {
	msg := fmt.Sprintf("class %s not found in %s", e.Name, e.Loader)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrClassNotFound) true for any ClassNotFoundError.
func (e *ClassNotFoundError) Is(target error) bool {
	return target == ErrClassNotFound
}

func (e *ClassNotFoundError) Unwrap() error {
	return e.Err
}
