package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is a hierarchical event type using dot notation.
type Type string

// Lifecycle event types.
const (
	PluginInstalled   Type = "plugin.installed"
	PluginUpgraded    Type = "plugin.upgraded"
	PluginEnabled     Type = "plugin.enabled"
	PluginDisabled    Type = "plugin.disabled"
	PluginUninstalled Type = "plugin.uninstalled"
	ModuleEnabled     Type = "module.enabled"
	ModuleDisabled    Type = "module.disabled"
)

// Wildcards accepted in subscription patterns.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	separator = "."
)

// String returns the type as a string.
func (t Type) String() string {
	return string(t)
}

// Matches reports whether t matches pattern.
func (t Type) Matches(pattern string) bool {
	return matchSegments(split(string(t)), split(pattern))
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, separator)
}

// matchSegments matches topic segments against pattern segments.
func matchSegments(topic, pattern []string) bool {
	ti, pi := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			// Try consuming 0, 1, 2, ... topic segments
			for ; ti <= len(topic); ti++ {
				if matchSegments(topic[ti:], pattern[pi+1:]) {
					return true
				}
			}
			return false
		}

		if ti >= len(topic) {
			return false
		}
		if pattern[pi] != WildcardSingle && pattern[pi] != topic[ti] {
			return false
		}
		ti++
		pi++
	}

	return ti == len(topic)
}

// validPattern reports whether pattern is non-empty without empty
// segments.
func validPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, seg := range split(pattern) {
		if seg == "" {
			return false
		}
	}
	return true
}

// Event is a plugin or module lifecycle notification.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type is the event type, e.g. "plugin.enabled".
	Type Type `json:"type"`

	// PluginKey is the key of the plugin concerned.
	PluginKey string `json:"plugin_key"`

	// ModuleKey is the complete key of the module for module events.
	ModuleKey string `json:"module_key,omitempty"`

	// Version is the plugin version at the time of the event.
	Version string `json:"version,omitempty"`

	// Time is when the event was created.
	Time time.Time `json:"time"`
}

// NewPluginEvent creates a plugin event.
func NewPluginEvent(t Type, pluginKey, version string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		PluginKey: pluginKey,
		Version:   version,
		Time:      time.Now().UTC(),
	}
}

// NewModuleEvent creates a module event for the module with the given
// complete key.
func NewModuleEvent(t Type, completeKey string) Event {
	pluginKey, _, _ := strings.Cut(completeKey, ":")
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		PluginKey: pluginKey,
		ModuleKey: completeKey,
		Time:      time.Now().UTC(),
	}
}
