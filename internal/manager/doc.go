// Package manager orchestrates the plugins of a host.
//
// A Manager owns every installed plugin. Init loads the plugins of all
// configured loaders, installs them and enables the ones whose persisted
// or default state says so. Afterwards plugins can be enabled, disabled,
// uninstalled and picked up from dynamic loaders while the host runs.
//
// # Ordering
//
// Plugins declare the plugins they need in plugin-info/dependencies.
// Enabling a set of plugins first adds the installed dependencies they
// are missing, then enables everything so that each plugin follows its
// dependencies. A plugin whose required dependency is absent or fails,
// or that sits on a dependency cycle, fails on its own; the rest of the
// set is still enabled. Disabling a plugin first disables the enabled
// plugins that require it.
//
// # Upgrades
//
// When a loader produces a plugin whose key is already installed, the
// newer of the two wins by plugin.Compare. An equal version counts as
// newer so that redeploying the same artifact reloads it.
//
// # Persisted state
//
// Plugin and module enablement overrides are kept in a statestore.State
// and written wholesale to the configured statestore.Store after every
// change made through the public operations.
//
// All mutating operations are serialised; readers never wait for a
// lifecycle hook.
package manager
