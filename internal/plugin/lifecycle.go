package plugin

import (
	"context"
	"fmt"
)

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	s, _ := p.state.Load().(State)
	return s
}

// setState stores s. The transition mutex must be held.
func (p *Plugin) setState(s State) {
	old := p.State()
	p.state.Store(s)
	if old != s {
		p.logger.Debug("plugin state changed", "plugin", p.Key(), "from", old, "to", s)
	}
}

// CompareAndSetState sets the state to next only if it is currently old.
func (p *Plugin) CompareAndSetState(old, next State) bool {
	if p.state.CompareAndSwap(old, next) {
		p.logger.Debug("plugin state changed", "plugin", p.Key(), "from", old, "to", next)
		return true
	}
	return false
}

// Install installs the plugin. It is a no-op when already installed.
func (p *Plugin) Install(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	if p.State() == StateInstalled {
		return nil
	}
	if err := p.behavior.Install(ctx, p); err != nil {
		return p.hookFailed("install", err)
	}
	p.setState(StateInstalled)
	return nil
}

// Uninstall uninstalls the plugin and drops its module descriptors. It is
// a no-op when already uninstalled.
func (p *Plugin) Uninstall(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	if p.State() == StateUninstalled {
		return nil
	}
	if err := p.behavior.Uninstall(ctx, p); err != nil {
		return p.hookFailed("uninstall", err)
	}
	p.setState(StateUninstalled)
	p.clearModules()
	return nil
}

// Enable enables the plugin. It is a no-op when the plugin is enabled or
// still enabling.
func (p *Plugin) Enable(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	if s := p.State(); s == StateEnabled || s == StateEnabling {
		return nil
	}

	next, err := p.behavior.Enable(ctx, p)
	if err != nil {
		return p.hookFailed("enable", err)
	}
	if next != StateEnabled && next != StateEnabling {
		p.logger.Warn("illegal state transition after enabling",
			"plugin", p.Key(),
			"state", next,
		)
	}
	p.setState(next)
	return nil
}

// Disable disables the plugin. It is a no-op when already disabled.
func (p *Plugin) Disable(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()

	if p.State() == StateDisabled {
		return nil
	}
	if err := p.behavior.Disable(ctx, p); err != nil {
		return p.hookFailed("disable", err)
	}
	p.setState(StateDisabled)
	return nil
}

// Close uninstalls the plugin and releases its resources.
func (p *Plugin) Close(ctx context.Context) error {
	if err := p.Uninstall(ctx); err != nil {
		return err
	}
	return p.behavior.Close()
}

func (p *Plugin) hookFailed(op string, err error) error {
	p.logger.Error("plugin lifecycle hook failed",
		"plugin", p.Key(),
		"operation", op,
		"error", err,
	)
	return fmt.Errorf("%s plugin %q: %w", op, p.Key(), err)
}
