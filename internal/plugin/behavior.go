package plugin

import (
	"context"
	"fmt"

	"github.com/dshills/plughost/internal/classloader"
)

// Behavior supplies the lifecycle hooks of a plugin. The Plugin handles
// idempotency, state storage and logging around them.
type Behavior interface {
	Install(ctx context.Context, p *Plugin) error
	Uninstall(ctx context.Context, p *Plugin) error
	// Enable returns the state to store, normally StateEnabled or
	// StateEnabling for plugins that finish enabling asynchronously.
	Enable(ctx context.Context, p *Plugin) (State, error)
	Disable(ctx context.Context, p *Plugin) error
	// Close releases resources held by the plugin.
	Close() error
}

// StaticBehavior is the behavior of plugins whose classes come from the
// host. Every hook succeeds immediately.
type StaticBehavior struct{}

func (StaticBehavior) Install(context.Context, *Plugin) error   { return nil }
func (StaticBehavior) Uninstall(context.Context, *Plugin) error { return nil }
func (StaticBehavior) Disable(context.Context, *Plugin) error   { return nil }
func (StaticBehavior) Close() error                             { return nil }

func (StaticBehavior) Enable(context.Context, *Plugin) (State, error) {
	return StateEnabled, nil
}

// ArchiveBehavior owns the PluginLoader of an archive plugin and closes
// it when the plugin is uninstalled.
type ArchiveBehavior struct {
	StaticBehavior
	Loader *classloader.PluginLoader
}

// Uninstall closes the plugin loader.
func (b ArchiveBehavior) Uninstall(context.Context, *Plugin) error {
	return b.Close()
}

// Close closes the plugin loader.
func (b ArchiveBehavior) Close() error {
	if b.Loader == nil {
		return nil
	}
	return b.Loader.Close()
}

// unloadableBehavior refuses to enable.
type unloadableBehavior struct {
	StaticBehavior
	inner Behavior
}

func (b unloadableBehavior) Enable(_ context.Context, p *Plugin) (State, error) {
	return "", fmt.Errorf("%w: %s", ErrUnloadable, p.ErrorText())
}

func (b unloadableBehavior) Uninstall(ctx context.Context, p *Plugin) error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Uninstall(ctx, p)
}

func (b unloadableBehavior) Close() error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Close()
}
