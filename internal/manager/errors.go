package manager

import (
	"errors"
	"fmt"
)

// Manager errors. Lookups of unknown plugins and modules return
// plugin.ErrPluginNotFound and plugin.ErrModuleNotFound.
var (
	// ErrNotInitialized is returned by operations called before Init.
	ErrNotInitialized = errors.New("plugin manager is not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("plugin manager is already initialized")

	// ErrDependencyCycle is returned for plugins on a dependency cycle.
	ErrDependencyCycle = errors.New("plugin dependency cycle")

	// ErrMissingDependency is returned when a required dependency is not
	// installed or could not be enabled.
	ErrMissingDependency = errors.New("required plugin dependency is not enabled")

	// ErrEnableTimeout is returned when a plugin stays ENABLING past the
	// enable timeout.
	ErrEnableTimeout = errors.New("timed out waiting for plugin to enable")

	// ErrSystemPlugin is returned when disabling or uninstalling a system
	// plugin.
	ErrSystemPlugin = errors.New("system plugins cannot be disabled or uninstalled")

	// ErrNotUninstallable is returned for plugins whose loader cannot
	// uninstall them.
	ErrNotUninstallable = errors.New("plugin cannot be uninstalled")

	// ErrCannotDisable is returned when disabling a module whose kind
	// forbids it.
	ErrCannotDisable = errors.New("module cannot be disabled")

	// ErrRequiresRestart is returned when a module change was recorded
	// but only takes effect after a restart.
	ErrRequiresRestart = errors.New("module change requires restart")

	// ErrRuntimeVersion is returned when a module needs a newer runtime.
	ErrRuntimeVersion = errors.New("module requires a newer runtime version")
)

// PluginError ties an error to the plugin it concerns.
type PluginError struct {
	Key string
	Op  string
	Err error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s plugin %q: %v", e.Op, e.Key, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
