package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/loader"
	"github.com/dshills/plughost/internal/plugin"
)

// InstallPlugins installs plugins that did not come from one of the
// manager's loaders, then enables those whose state says so. It returns
// the keys of the plugins installed.
func (m *Manager) InstallPlugins(ctx context.Context, plugins ...*plugin.Plugin) ([]string, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(plugins))
	for _, p := range plugins {
		keys = append(keys, p.Key())
	}
	err := m.addPlugins(ctx, nil, plugins, false)
	return keys, err
}

// ScanForNewPlugins asks every dynamic loader for plugins that appeared
// or changed since the last scan, installs them and enables those whose
// state says so. It returns the number of plugins found.
func (m *Manager) ScanForNewPlugins(ctx context.Context) (int, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	var (
		found int
		errs  []error
	)
	for _, l := range m.loaders {
		dl, ok := l.(loader.DynamicLoader)
		if !ok {
			continue
		}
		plugins, err := dl.LoadNew(ctx, m.kinds)
		if err != nil {
			errs = append(errs, err)
		}
		if len(plugins) == 0 {
			continue
		}
		found += len(plugins)
		if err := m.addPlugins(ctx, l, plugins, false); err != nil {
			errs = append(errs, err)
		}
	}
	if found > 0 {
		m.logger.Info("found new plugins", "count", found)
	}
	return found, errors.Join(errs...)
}

// addPlugins installs plugins, replacing installed plugins they upgrade,
// then enables the ones that should be enabled. origin is the loader the
// plugins came from, or nil. The ops lock must be held.
func (m *Manager) addPlugins(ctx context.Context, origin loader.PluginLoader, plugins []*plugin.Plugin, startup bool) error {
	var (
		errs     []error
		toEnable []*plugin.Plugin
	)

	for _, p := range newestByKey(plugins, m.logger) {
		key := p.Key()
		upgraded := false
		var restore []*plugin.Plugin

		if old, ok := m.Plugin(key); ok && old != p {
			if plugin.Compare(p, old) < 0 {
				m.logger.Info("skipping older plugin",
					"plugin", key,
					"version", p.Version(),
					"installed", old.Version(),
				)
				if err := p.Close(ctx); err != nil {
					m.logger.Warn("releasing skipped plugin", "plugin", key, "error", err)
				}
				continue
			}

			var err error
			restore, err = m.replace(ctx, old, p)
			if err != nil {
				errs = append(errs, &PluginError{Key: key, Op: "upgrade", Err: err})
				continue
			}
			upgraded = true
		}

		m.dropPlaceholders(ctx, p)

		if err := p.Install(ctx); err != nil {
			errs = append(errs, &PluginError{Key: key, Op: "install", Err: err})
			p = plugin.Unloadable(p, err)
			_ = p.Install(ctx)
		}
		m.register(p, origin)

		if upgraded {
			m.logger.Info("upgraded plugin", "plugin", key, "version", p.Version())
			m.publish(ctx, event.NewPluginEvent(event.PluginUpgraded, key, p.Version()))
		} else {
			m.logger.Info("installed plugin", "plugin", key, "version", p.Version(), "unloadable", p.IsUnloadable())
			m.publish(ctx, event.NewPluginEvent(event.PluginInstalled, key, p.Version()))
		}

		if m.shouldEnable(p) {
			toEnable = append(toEnable, p)
		}
		for _, dep := range restore {
			if cur, ok := m.Plugin(dep.Key()); ok && cur == dep && m.shouldEnable(dep) {
				toEnable = append(toEnable, dep)
			}
		}
	}

	if len(toEnable) > 0 {
		if err := m.enablePlugins(ctx, toEnable, startup); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) shouldEnable(p *plugin.Plugin) bool {
	return !p.IsUnloadable() && m.state.PluginEnabled(p.Key(), p.EnabledByDefault())
}

// newestByKey keeps, for each key, the plugin that compares greatest.
// Order of first appearance is kept.
func newestByKey(plugins []*plugin.Plugin, logger *slog.Logger) []*plugin.Plugin {
	index := make(map[string]int, len(plugins))
	out := make([]*plugin.Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p == nil {
			continue
		}
		i, dup := index[p.Key()]
		if !dup {
			index[p.Key()] = len(out)
			out = append(out, p)
			continue
		}
		logger.Warn("duplicate plugin key in one load", "plugin", p.Key())
		if plugin.Compare(p, out[i]) >= 0 {
			out[i] = p
		}
	}
	return out
}

// replace takes old out of service so that p can take its key. Enabled
// dependents of old are disabled first and returned so they can be
// enabled again against the new plugin.
func (m *Manager) replace(ctx context.Context, old, p *plugin.Plugin) ([]*plugin.Plugin, error) {
	key := old.Key()
	var disabled []*plugin.Plugin

	if old.State().IsEnabled() {
		var err error
		disabled, err = m.disableCascade(ctx, old)
		if err != nil {
			return disabled, err
		}
	}
	if err := old.Uninstall(ctx); err != nil {
		return disabled, err
	}
	if err := old.Close(ctx); err != nil {
		m.logger.Warn("releasing replaced plugin", "plugin", key, "error", err)
	}
	m.aggregate.Forget(key)

	if path := old.Artifact(); path != "" && path != p.Artifact() {
		m.removeArtifact(old)
	}
	return disabled, nil
}

// dropPlaceholders removes unloadable plugins installed under another key
// from the artifact p was loaded from, such as a half-written archive
// registered under its file name. The artifact itself is kept.
func (m *Manager) dropPlaceholders(ctx context.Context, p *plugin.Plugin) {
	path := p.Artifact()
	if path == "" {
		return
	}
	for _, old := range m.Plugins() {
		if old == p || old.Key() == p.Key() || !old.IsUnloadable() || old.Artifact() != path {
			continue
		}
		key := old.Key()
		if err := old.Uninstall(ctx); err != nil {
			m.logger.Warn("uninstalling stale placeholder", "plugin", key, "error", err)
		}
		if err := old.Close(ctx); err != nil {
			m.logger.Warn("releasing stale placeholder", "plugin", key, "error", err)
		}
		m.unregister(key)
		m.aggregate.Forget(key)

		m.logger.Info("dropped unloadable placeholder", "plugin", key, "replaced_by", p.Key(), "path", path)
		m.publish(ctx, event.NewPluginEvent(event.PluginUninstalled, key, old.Version()))
	}
}

// removeArtifact deletes the artifact of p through the loader that
// produced it, when that loader supports removal.
func (m *Manager) removeArtifact(p *plugin.Plugin) {
	m.mu.RLock()
	origin := m.origins[p.Key()]
	m.mu.RUnlock()

	dl, ok := origin.(loader.DynamicLoader)
	if !ok || !dl.SupportsRemoval() || !p.Capabilities().Deletable {
		return
	}
	if err := dl.Remove(p); err != nil {
		m.logger.Warn("removing plugin artifact", "plugin", p.Key(), "path", p.Artifact(), "error", err)
	}
}

func (m *Manager) register(p *plugin.Plugin, origin loader.PluginLoader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.Key()
	if _, exists := m.plugins[key]; !exists {
		m.order = append(m.order, key)
	}
	m.plugins[key] = p
	if origin != nil {
		m.origins[key] = origin
	} else {
		delete(m.origins, key)
	}
}

func (m *Manager) unregister(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plugins, key)
	delete(m.origins, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// UninstallPlugin disables the plugin, and the plugins that require it,
// uninstalls it, forgets its persisted state and deletes its artifact
// when its loader supports that.
func (m *Manager) UninstallPlugin(ctx context.Context, key string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	p, ok := m.Plugin(key)
	if !ok {
		return fmt.Errorf("%q: %w", key, plugin.ErrPluginNotFound)
	}
	if p.IsSystem() {
		return &PluginError{Key: key, Op: "uninstall", Err: ErrSystemPlugin}
	}
	if !p.Capabilities().Uninstallable {
		return &PluginError{Key: key, Op: "uninstall", Err: ErrNotUninstallable}
	}

	if p.State().IsEnabled() {
		if _, err := m.disableCascade(ctx, p); err != nil {
			return &PluginError{Key: key, Op: "uninstall", Err: err}
		}
	}
	if err := p.Uninstall(ctx); err != nil {
		return &PluginError{Key: key, Op: "uninstall", Err: err}
	}

	m.removeArtifact(p)
	m.unregister(key)
	m.aggregate.Forget(key)
	m.state.Remove(key)

	m.logger.Info("uninstalled plugin", "plugin", key)
	m.publish(ctx, event.NewPluginEvent(event.PluginUninstalled, key, p.Version()))
	return m.persist(ctx)
}
