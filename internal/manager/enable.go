package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
)

// EnablePlugins enables the plugins with the given keys, together with
// the installed plugins they depend on, and records all of them as
// enabled.
// Each failure is reported in the returned error; the other plugins are
// still enabled.
func (m *Manager) EnablePlugins(ctx context.Context, keys ...string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	var (
		errs    []error
		targets []*plugin.Plugin
	)
	for _, key := range keys {
		p, ok := m.Plugin(key)
		if !ok {
			errs = append(errs, fmt.Errorf("%q: %w", key, plugin.ErrPluginNotFound))
			continue
		}
		targets = append(targets, p)
	}

	closure := dependencyClosure(targets, m.Plugin)
	if err := m.enablePlugins(ctx, closure, false); err != nil {
		errs = append(errs, err)
	}
	for _, p := range closure {
		if p.State().IsEnabled() {
			m.state.SetPluginEnabled(p.Key(), p.EnabledByDefault(), true)
		}
	}
	if err := m.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// enablePlugins enables targets in dependency order. startup is true
// during Init. The ops lock must be held.
func (m *Manager) enablePlugins(ctx context.Context, targets []*plugin.Plugin, startup bool) error {
	sorted, cyclic := sortByDependencies(targets)

	var errs []error
	for _, p := range cyclic {
		m.logger.Error("cannot enable plugin on dependency cycle", "plugin", p.Key())
		errs = append(errs, &PluginError{Key: p.Key(), Op: "enable", Err: ErrDependencyCycle})
	}

	var enabled []*plugin.Plugin
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if p.State().IsEnabled() {
			continue
		}
		if err := m.checkDependencies(ctx, p); err != nil {
			m.logger.Error("cannot enable plugin", "plugin", p.Key(), "error", err)
			errs = append(errs, &PluginError{Key: p.Key(), Op: "enable", Err: err})
			continue
		}
		if err := p.Enable(ctx); err != nil {
			errs = append(errs, &PluginError{Key: p.Key(), Op: "enable", Err: err})
			continue
		}
		enabled = append(enabled, p)
	}

	// Plugins that enable asynchronously get one shared deadline.
	waiting := slices.DeleteFunc(slices.Clone(enabled), func(p *plugin.Plugin) bool {
		return p.State() != plugin.StateEnabling
	})
	if len(waiting) > 0 {
		ok := plugin.WaitUntil(ctx, func() bool {
			return !slices.ContainsFunc(waiting, func(p *plugin.Plugin) bool {
				return p.State() == plugin.StateEnabling
			})
		}, m.waitInterval, m.enableTimeout, m.logger, fmt.Sprintf("%d plugins to enable", len(waiting)))
		if !ok {
			for _, p := range waiting {
				if p.State() == plugin.StateEnabling {
					errs = append(errs, &PluginError{Key: p.Key(), Op: "enable", Err: ErrEnableTimeout})
				}
			}
		}
	}

	if len(enabled) > 0 {
		m.aggregate.Flush()
	}
	for _, p := range enabled {
		if !p.State().IsEnabled() {
			continue
		}
		if err := m.enableModules(ctx, p, startup); err != nil {
			errs = append(errs, err)
		}
		m.logger.Info("enabled plugin", "plugin", p.Key(), "version", p.Version())
		m.publish(ctx, event.NewPluginEvent(event.PluginEnabled, p.Key(), p.Version()))
	}
	return errors.Join(errs...)
}

// checkDependencies verifies that every required dependency of p is
// installed and enabled. Dependencies still enabling are waited for.
func (m *Manager) checkDependencies(ctx context.Context, p *plugin.Plugin) error {
	var missing []string
	for _, dep := range p.Info().Dependencies {
		if dep.Optional {
			continue
		}
		d, ok := m.Plugin(dep.Key)
		if ok && d.State() == plugin.StateEnabling {
			plugin.WaitUntil(ctx, func() bool {
				return d.State() != plugin.StateEnabling
			}, m.waitInterval, m.enableTimeout, m.logger, "dependency "+dep.Key)
		}
		if !ok || !d.State().IsEnabled() {
			missing = append(missing, dep.Key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingDependency, missing)
	}
	return nil
}

// DisablePlugin disables the plugin with key, and the enabled plugins
// that require it, and records it as disabled.
func (m *Manager) DisablePlugin(ctx context.Context, key string) error {
	return m.disable(ctx, key, true)
}

// DisablePluginWithoutPersisting disables the plugin with key, and the
// enabled plugins that require it, without recording the change. The
// plugin comes back enabled on the next start.
func (m *Manager) DisablePluginWithoutPersisting(ctx context.Context, key string) error {
	return m.disable(ctx, key, false)
}

func (m *Manager) disable(ctx context.Context, key string, persist bool) error {
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
		return &PluginError{Key: key, Op: "disable", Err: ErrSystemPlugin}
	}

	if _, err := m.disableCascade(ctx, p); err != nil {
		return &PluginError{Key: key, Op: "disable", Err: err}
	}
	if !persist {
		return nil
	}
	m.state.SetPluginEnabled(key, p.EnabledByDefault(), false)
	return m.persist(ctx)
}

// disableCascade disables the enabled dependents of p, deepest first,
// then p. It returns the dependents it disabled.
func (m *Manager) disableCascade(ctx context.Context, p *plugin.Plugin) ([]*plugin.Plugin, error) {
	deps := dependents(m.EnabledPlugins(), p.Key())
	sorted, cyclic := sortByDependencies(deps)
	order := append(sorted, cyclic...)
	slices.Reverse(order)

	var disabled []*plugin.Plugin
	for _, d := range order {
		m.logger.Info("disabling dependent plugin", "plugin", d.Key(), "dependency", p.Key())
		if err := m.disablePlugin(ctx, d); err != nil {
			return disabled, err
		}
		disabled = append(disabled, d)
	}
	return disabled, m.disablePlugin(ctx, p)
}

// disablePlugin disables the modules of p and then p itself.
func (m *Manager) disablePlugin(ctx context.Context, p *plugin.Plugin) error {
	if p.State() == plugin.StateDisabled {
		return nil
	}
	start := time.Now()
	m.disableModules(ctx, p)
	if err := p.Disable(ctx); err != nil {
		return err
	}
	m.aggregate.Forget(p.Key())

	m.logger.Info("disabled plugin",
		"plugin", p.Key(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	m.publish(ctx, event.NewPluginEvent(event.PluginDisabled, p.Key(), p.Version()))
	return nil
}
