package statestore

import (
	"maps"
	"strings"
	"sync"
)

// State tracks enablement overrides in memory. A key is present only
// when its state differs from the default it was set against.
type State struct {
	mu        sync.RWMutex
	overrides map[string]bool
}

// NewState creates a tracker seeded with persisted overrides.
func NewState(overrides map[string]bool) *State {
	s := &State{overrides: make(map[string]bool, len(overrides))}
	maps.Copy(s.overrides, overrides)
	return s
}

// PluginEnabled returns the state of a plugin, or def when no override
// exists.
func (s *State) PluginEnabled(key string, def bool) bool {
	return s.lookup(key, def)
}

// ModuleEnabled returns the state of a module by complete key, or def
// when no override exists.
func (s *State) ModuleEnabled(completeKey string, def bool) bool {
	return s.lookup(completeKey, def)
}

func (s *State) lookup(key string, def bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[key]; ok {
		return v
	}
	return def
}

// SetPluginEnabled records the state of a plugin whose default is def.
func (s *State) SetPluginEnabled(key string, def, enabled bool) {
	s.set(key, def, enabled)
}

// SetModuleEnabled records the state of a module whose default is def.
func (s *State) SetModuleEnabled(completeKey string, def, enabled bool) {
	s.set(completeKey, def, enabled)
}

func (s *State) set(key string, def, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled == def {
		delete(s.overrides, key)
		return
	}
	s.overrides[key] = enabled
}

// Remove drops the overrides of a plugin and all of its modules.
func (s *State) Remove(pluginKey string) {
	prefix := pluginKey + ":"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.overrides {
		if k == pluginKey || strings.HasPrefix(k, prefix) {
			delete(s.overrides, k)
		}
	}
}

// Snapshot returns a copy of the overrides.
func (s *State) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.overrides)
}
