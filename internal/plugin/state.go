package plugin

// State represents the lifecycle state of a plugin. Behaviors may return
// states of their own from Enable; the well-known ones are below.
type State string

// Plugin states.
const (
	// StateUninstalled - Plugin is known but not installed.
	StateUninstalled State = "UNINSTALLED"

	// StateInstalled - Plugin is installed but has never been enabled.
	StateInstalled State = "INSTALLED"

	// StateEnabling - Plugin enablement has started but not completed.
	StateEnabling State = "ENABLING"

	// StateEnabled - Plugin is enabled and its modules may be used.
	StateEnabled State = "ENABLED"

	// StateDisabled - Plugin was disabled.
	StateDisabled State = "DISABLED"
)

// String returns the state name.
func (s State) String() string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// IsEnabled returns true for ENABLED.
func (s State) IsEnabled() bool {
	return s == StateEnabled
}
