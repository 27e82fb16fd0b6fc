package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrModuleNotFound is returned when a module descriptor cannot be located.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDuplicateModule is returned when a plugin declares the same module key twice.
	ErrDuplicateModule = errors.New("duplicate module key")

	// ErrDuplicateKind is returned when a module kind is registered twice.
	ErrDuplicateKind = errors.New("module kind already registered")

	// ErrUnknownKind is returned for module elements no kind is registered for.
	ErrUnknownKind = errors.New("unknown module kind")

	// ErrKeyImmutable is returned when changing the key of an installed plugin.
	ErrKeyImmutable = errors.New("plugin key cannot change after install")

	// ErrUnloadable is returned when enabling a plugin or module that failed to load.
	ErrUnloadable = errors.New("plugin or module could not be loaded")

	// ErrModuleNotEnabled is returned when requesting the instance of a disabled module.
	ErrModuleNotEnabled = errors.New("module is not enabled")

	// ErrNoConstructor is returned when no constructor is registered for a module class.
	ErrNoConstructor = errors.New("no constructor registered")

	// ErrLinkage marks errors that mean the host itself is inconsistent. They
	// are never converted into unloadable modules.
	ErrLinkage = errors.New("linkage error")
)

// ParseError reports an invalid module or plugin declaration.
type ParseError struct {
	Key     string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return "parse error: " + e.Message
	}
	return fmt.Sprintf("parse error in %q: %s", e.Key, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ClassResolutionError reports a module class that could not be resolved.
type ClassResolutionError struct {
	ClassName string
	Err       error
}

func (e *ClassResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve module class %q: %v", e.ClassName, e.Err)
}

func (e *ClassResolutionError) Unwrap() error {
	return e.Err
}
