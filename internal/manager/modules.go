package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
)

// loaderFor returns the loader module classes of p resolve against.
// Plugins without their own loader see every enabled plugin.
func (m *Manager) loaderFor(p *plugin.Plugin) classloader.Loader {
	if l := p.ClassLoader(); l != nil {
		return l
	}
	return m.aggregate
}

// enableModules enables the modules of p that should be enabled. A
// module that fails is replaced by an unloadable one. Linkage errors are
// returned as is.
func (m *Manager) enableModules(ctx context.Context, p *plugin.Plugin, startup bool) error {
	l := m.loaderFor(p)
	release := m.stack.Push(l)
	defer release()
	ctx = classloader.WithLoader(ctx, l)

	var errs []error
	for _, d := range p.Modules() {
		if !m.shouldEnableModule(d, startup) {
			continue
		}
		if err := m.enableModule(ctx, d); err != nil && errors.Is(err, plugin.ErrLinkage) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) shouldEnableModule(d *plugin.ModuleDescriptor, startup bool) bool {
	key := d.CompleteKey()
	switch {
	case d.IsUnloadable() || d.IsEnabled():
		return false
	case !m.state.ModuleEnabled(key, d.EnabledByDefault()):
		m.logger.Debug("module is disabled", "module", key)
		return false
	case !d.SatisfiesMinRuntimeVersion(m.runtimeVersion) && m.runtimeVersion > 0:
		m.logger.Info("module requires a newer runtime",
			"module", key,
			"required", d.MinRuntimeVersion(),
			"runtime", m.runtimeVersion,
		)
		return false
	case d.RequiresRestart() && !startup:
		m.logger.Warn("module will be enabled on restart", "module", key)
		return false
	}
	return true
}

// enableModule enables d. Failures other than linkage errors replace d
// with an unloadable module.
func (m *Manager) enableModule(ctx context.Context, d *plugin.ModuleDescriptor) error {
	err := d.Enabled(ctx)
	if err == nil {
		m.publish(ctx, event.NewModuleEvent(event.ModuleEnabled, d.CompleteKey()))
		return nil
	}
	if errors.Is(err, plugin.ErrLinkage) {
		return err
	}

	m.logger.Error("cannot enable module", "module", d.CompleteKey(), "error", err)
	if p := d.Plugin(); p != nil {
		p.ReplaceModule(plugin.UnloadableModule(d, err))
	}
	return err
}

// disableModules disables the enabled modules of p in reverse order.
func (m *Manager) disableModules(ctx context.Context, p *plugin.Plugin) {
	modules := p.Modules()
	slices.Reverse(modules)
	for _, d := range modules {
		if !d.IsEnabled() {
			continue
		}
		d.Disabled()
		m.publish(ctx, event.NewModuleEvent(event.ModuleDisabled, d.CompleteKey()))
	}
}

// EnablePluginModule enables the module with the complete key and
// records it as enabled. Modules of disabled plugins are only recorded;
// they are enabled with their plugin.
func (m *Manager) EnablePluginModule(ctx context.Context, completeKey string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	d, ok := m.Module(completeKey)
	if !ok {
		return fmt.Errorf("%q: %w", completeKey, plugin.ErrModuleNotFound)
	}
	if d.IsUnloadable() {
		return fmt.Errorf("module %s: %w: %s", completeKey, plugin.ErrUnloadable, d.ErrorText())
	}
	if m.runtimeVersion > 0 && !d.SatisfiesMinRuntimeVersion(m.runtimeVersion) {
		return fmt.Errorf("module %s needs %v: %w", completeKey, d.MinRuntimeVersion(), ErrRuntimeVersion)
	}

	m.state.SetModuleEnabled(completeKey, d.EnabledByDefault(), true)
	if err := m.persist(ctx); err != nil {
		return err
	}
	if d.RequiresRestart() {
		return fmt.Errorf("enable %s: %w", completeKey, ErrRequiresRestart)
	}

	p := d.Plugin()
	if !p.State().IsEnabled() || d.IsEnabled() {
		return nil
	}

	l := m.loaderFor(p)
	release := m.stack.Push(l)
	defer release()
	if err := m.enableModule(classloader.WithLoader(ctx, l), d); err != nil {
		return err
	}
	m.aggregate.Flush()
	return nil
}

// DisablePluginModule disables the module with the complete key and
// records it as disabled.
func (m *Manager) DisablePluginModule(ctx context.Context, completeKey string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	d, ok := m.Module(completeKey)
	if !ok {
		return fmt.Errorf("%q: %w", completeKey, plugin.ErrModuleNotFound)
	}
	if d.CannotDisable() {
		return fmt.Errorf("disable %s: %w", completeKey, ErrCannotDisable)
	}

	m.state.SetModuleEnabled(completeKey, d.EnabledByDefault(), false)
	if err := m.persist(ctx); err != nil {
		return err
	}
	if d.RequiresRestart() {
		return fmt.Errorf("disable %s: %w", completeKey, ErrRequiresRestart)
	}
	if !d.IsEnabled() {
		return nil
	}

	d.Disabled()
	m.aggregate.Forget(d.Plugin().Key())
	m.publish(ctx, event.NewModuleEvent(event.ModuleDisabled, completeKey))
	return nil
}
