package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/loader"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/statestore"
)

// Defaults for Options.
const (
	DefaultEnableTimeout = 60 * time.Second
	DefaultWaitInterval  = plugin.DefaultWaitInterval
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStore sets where enablement state is persisted. The default keeps
// it in memory.
func WithStore(s statestore.Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithPublisher sets the publisher lifecycle events are sent to.
func WithPublisher(p event.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithHostLoader sets the loader of the host's own classes. The aggregate
// loader consults it before any plugin.
func WithHostLoader(l classloader.Loader) Option {
	return func(m *Manager) {
		m.host = l
	}
}

// WithRuntimeVersion sets the runtime version compared against module
// minimum runtime versions. Zero disables the check.
func WithRuntimeVersion(v float64) Option {
	return func(m *Manager) {
		m.runtimeVersion = v
	}
}

// WithEnableTimeout sets how long to wait for plugins that enable
// asynchronously, and how often to check on them.
func WithEnableTimeout(timeout, interval time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.enableTimeout = timeout
		}
		if interval > 0 {
			m.waitInterval = interval
		}
	}
}

// Manager owns the installed plugins and drives their lifecycle.
type Manager struct {
	kinds   *plugin.Kinds
	loaders []loader.PluginLoader

	store          statestore.Store
	state          *statestore.State
	publisher      event.Publisher
	host           classloader.Loader
	aggregate      *classloader.Aggregate
	stack          classloader.Stack // pushed only under ops
	runtimeVersion float64
	enableTimeout  time.Duration
	waitInterval   time.Duration
	logger         *slog.Logger

	// ops serialises mutating operations.
	ops         sync.Mutex
	initialized atomic.Bool
	closed      atomic.Bool

	mu      sync.RWMutex
	plugins map[string]*plugin.Plugin
	order   []string
	origins map[string]loader.PluginLoader
}

// New creates a manager that loads plugins from loaders and resolves
// module elements through kinds.
func New(kinds *plugin.Kinds, loaders []loader.PluginLoader, opts ...Option) *Manager {
	m := &Manager{
		kinds:         kinds,
		loaders:       loaders,
		store:         statestore.NewMemoryStore(nil),
		state:         statestore.NewState(nil),
		publisher:     event.Discard{},
		enableTimeout: DefaultEnableTimeout,
		waitInterval:  DefaultWaitInterval,
		logger:        slog.Default(),
		plugins:       make(map[string]*plugin.Plugin),
		origins:       make(map[string]loader.PluginLoader),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.aggregate = classloader.NewAggregate(m.host, m.enabledOwners, m.logger)
	return m
}

// Init loads the persisted state and every plugin of every loader, then
// enables the plugins that should be enabled. Plugins that fail are
// reported in the returned error but stay installed.
func (m *Manager) Init(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if m.initialized.Load() {
		return ErrAlreadyInitialized
	}
	start := time.Now()

	overrides, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading plugin state: %w", err)
	}
	m.state = statestore.NewState(overrides)

	var errs []error
	for _, l := range m.loaders {
		plugins, err := l.LoadAll(ctx, m.kinds)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
		if err := m.addPlugins(ctx, l, plugins, true); err != nil {
			errs = append(errs, err)
		}
	}
	m.initialized.Store(true)

	m.logger.Info("plugin system started",
		"plugins", len(m.Plugins()),
		"enabled", len(m.EnabledPlugins()),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return errors.Join(errs...)
}

// Shutdown disables every plugin, dependents first, releases their
// resources and closes the state store. State is not persisted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("shutting down plugin system")

	var errs []error
	sorted, cyclic := sortByDependencies(m.EnabledPlugins())
	enabled := append(sorted, cyclic...)
	slices.Reverse(enabled)
	for _, p := range enabled {
		if err := m.disablePlugin(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range m.Plugins() {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.aggregate.Flush()

	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing plugin state store: %w", err))
	}
	return errors.Join(errs...)
}

// Running reports whether Init completed and Shutdown has not started.
// Init can return plugin errors and still leave the manager running.
func (m *Manager) Running() bool {
	return m.initialized.Load() && !m.closed.Load()
}

// Plugins returns every installed plugin, unloadable ones included, in
// installation order.
func (m *Manager) Plugins() []*plugin.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*plugin.Plugin, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.plugins[k])
	}
	return out
}

// Plugin returns the installed plugin with key.
func (m *Manager) Plugin(key string) (*plugin.Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[key]
	return p, ok
}

// EnabledPlugins returns the enabled plugins in installation order.
func (m *Manager) EnabledPlugins() []*plugin.Plugin {
	var out []*plugin.Plugin
	for _, p := range m.Plugins() {
		if p.State().IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// IsPluginEnabled reports whether the plugin with key is enabled.
func (m *Manager) IsPluginEnabled(key string) bool {
	p, ok := m.Plugin(key)
	return ok && p.State().IsEnabled()
}

// Module returns the module with the complete key "plugin:module".
func (m *Manager) Module(completeKey string) (*plugin.ModuleDescriptor, bool) {
	pluginKey, moduleKey, ok := strings.Cut(completeKey, ":")
	if !ok {
		return nil, false
	}
	p, ok := m.Plugin(pluginKey)
	if !ok {
		return nil, false
	}
	return p.Module(moduleKey)
}

// IsModuleEnabled reports whether the module is enabled and its plugin
// is enabled.
func (m *Manager) IsModuleEnabled(completeKey string) bool {
	d, ok := m.Module(completeKey)
	return ok && d.IsEnabled() && d.Plugin().State().IsEnabled()
}

// EnabledModules returns the enabled modules of enabled plugins.
func (m *Manager) EnabledModules() []*plugin.ModuleDescriptor {
	var out []*plugin.ModuleDescriptor
	for _, p := range m.EnabledPlugins() {
		for _, d := range p.Modules() {
			if d.IsEnabled() {
				out = append(out, d)
			}
		}
	}
	return out
}

// EnabledModulesOfKind returns the enabled modules of one kind.
func (m *Manager) EnabledModulesOfKind(kind string) []*plugin.ModuleDescriptor {
	var out []*plugin.ModuleDescriptor
	for _, d := range m.EnabledModules() {
		if d.Kind().Name == kind {
			out = append(out, d)
		}
	}
	return out
}

// ClassLoader returns the loader that sees the host and every enabled
// plugin.
func (m *Manager) ClassLoader() *classloader.Aggregate {
	return m.aggregate
}

// CurrentLoader returns the loader pushed while modules are being
// enabled, or nil outside of that. Pushes happen under the operation
// lock, so the result only describes the goroutine running the current
// operation; module code should prefer classloader.FromContext.
func (m *Manager) CurrentLoader() classloader.Loader {
	return m.stack.Current()
}

// State returns the persisted enablement overrides.
func (m *Manager) State() map[string]bool {
	return m.state.Snapshot()
}

// WaitUntilEnabled waits until the plugin with key is enabled. It
// reports false on timeout or when ctx is done.
func (m *Manager) WaitUntilEnabled(ctx context.Context, key string, timeout time.Duration) bool {
	return plugin.WaitUntil(ctx, func() bool {
		return m.IsPluginEnabled(key)
	}, m.waitInterval, timeout, m.logger, "plugin "+key)
}

func (m *Manager) enabledOwners() []classloader.Owner {
	enabled := m.EnabledPlugins()
	owners := make([]classloader.Owner, 0, len(enabled))
	for _, p := range enabled {
		if p.ClassLoader() != nil {
			owners = append(owners, p)
		}
	}
	return owners
}

func (m *Manager) persist(ctx context.Context) error {
	if err := m.store.Save(ctx, m.state.Snapshot()); err != nil {
		m.logger.Error("saving plugin state", "error", err)
		return fmt.Errorf("saving plugin state: %w", err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, e event.Event) {
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn("publishing plugin event",
			"type", e.Type,
			"plugin", e.PluginKey,
			"error", err,
		)
	}
}

func (m *Manager) checkOpen() error {
	if !m.initialized.Load() || m.closed.Load() {
		return ErrNotInitialized
	}
	return nil
}
