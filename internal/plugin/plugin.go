package plugin

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/descriptor"
)

// Info is the descriptive plugin-info block of a plugin.
type Info = descriptor.Info

// Resource is a resource declared by a plugin or module.
type Resource = descriptor.Resource

// Capabilities describe what the host may do with a plugin's artifact.
type Capabilities struct {
	// Uninstallable plugins may be uninstalled at runtime.
	Uninstallable bool
	// Deletable plugins may have their artifact removed on uninstall.
	Deletable bool
	// Dynamic plugins were loaded after startup from a watched directory.
	Dynamic bool
}

// Plugin is an installable unit grouping module descriptors.
//
// The lifecycle state is held in an atomic cell; Install, Uninstall,
// Enable and Disable are serialized per plugin. Module descriptors are
// kept in a copy-on-write set so readers never block.
type Plugin struct {
	mu               sync.RWMutex
	key              string
	name             string
	i18nNameKey      string
	pluginsVersion   int
	enabledByDefault bool
	system           bool
	dateLoaded       time.Time
	info             Info
	resources        []Resource
	artifact         string

	modMu   sync.Mutex
	modules atomic.Pointer[moduleSet]

	state      atomic.Value
	transition sync.Mutex

	behavior Behavior
	caps     Capabilities
	loader   classloader.Loader
	errText  string
	logger   *slog.Logger
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithBehavior sets the lifecycle hooks.
func WithBehavior(b Behavior) Option {
	return func(p *Plugin) {
		p.behavior = b
	}
}

// WithClassLoader sets the loader that resolves the plugin's classes.
func WithClassLoader(l classloader.Loader) Option {
	return func(p *Plugin) {
		p.loader = l
	}
}

// WithCapabilities sets the artifact capabilities.
func WithCapabilities(c Capabilities) Option {
	return func(p *Plugin) {
		p.caps = c
	}
}

// WithArtifact records the file the plugin was loaded from.
func WithArtifact(path string) Option {
	return func(p *Plugin) {
		p.artifact = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// New creates an uninstalled plugin.
func New(key string, opts ...Option) *Plugin {
	p := &Plugin{
		key:              key,
		name:             key,
		pluginsVersion:   1,
		enabledByDefault: true,
		dateLoaded:       time.Now(),
		behavior:         StaticBehavior{},
		logger:           slog.Default(),
	}
	p.state.Store(StateUninstalled)
	p.modules.Store(&moduleSet{byKey: map[string]*ModuleDescriptor{}})

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromDocument creates a plugin carrying the identity of a parsed
// descriptor. Modules are added separately.
func FromDocument(doc *descriptor.Document, opts ...Option) *Plugin {
	p := New(doc.Key, opts...)
	if doc.Name != "" {
		p.name = doc.Name
	}
	p.i18nNameKey = doc.I18nNameKey
	p.pluginsVersion = doc.PluginsVersion
	p.enabledByDefault = doc.EnabledByDefault
	p.system = doc.System
	p.info = doc.Info
	p.resources = doc.Resources
	return p
}

// Key returns the unique plugin key.
func (p *Plugin) Key() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// SetKey changes the key. Keys are fixed once the plugin is installed.
func (p *Plugin) SetKey(key string) error {
	if p.State() != StateUninstalled {
		return ErrKeyImmutable
	}
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
	return nil
}

// Name returns the display name.
func (p *Plugin) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetName sets the display name.
func (p *Plugin) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

// I18nNameKey returns the translation key of the name.
func (p *Plugin) I18nNameKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.i18nNameKey
}

// PluginsVersion returns the descriptor format version.
func (p *Plugin) PluginsVersion() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pluginsVersion
}

// EnabledByDefault reports whether the plugin is enabled when no
// persisted state says otherwise.
func (p *Plugin) EnabledByDefault() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabledByDefault && p.errText == ""
}

// SetEnabledByDefault sets the default enablement.
func (p *Plugin) SetEnabledByDefault(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabledByDefault = v
}

// IsSystem reports whether the plugin belongs to the host.
func (p *Plugin) IsSystem() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.system
}

// SetSystem marks the plugin as a system plugin.
func (p *Plugin) SetSystem(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.system = v
}

// DateLoaded returns when the plugin object was created.
func (p *Plugin) DateLoaded() time.Time {
	return p.dateLoaded
}

// Info returns the plugin information.
func (p *Plugin) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// SetInfo replaces the plugin information.
func (p *Plugin) SetInfo(info Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = info
}

// Version is shorthand for Info().Version.
func (p *Plugin) Version() string {
	return p.Info().Version
}

// Resources returns the plugin level resources.
func (p *Plugin) Resources() []Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Resource(nil), p.resources...)
}

// Artifact returns the backing file, if any.
func (p *Plugin) Artifact() string {
	return p.artifact
}

// Capabilities returns the artifact capabilities.
func (p *Plugin) Capabilities() Capabilities {
	return p.caps
}

// ClassLoader returns the plugin's own loader, or nil for plugins that
// use the host's classes only.
func (p *Plugin) ClassLoader() classloader.Loader {
	return p.loader
}

// IsUnloadable reports whether the plugin is a placeholder for one that
// failed to load.
func (p *Plugin) IsUnloadable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errText != ""
}

// ErrorText returns why the plugin could not be loaded.
func (p *Plugin) ErrorText() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errText
}

// Logger returns the plugin's logger.
func (p *Plugin) Logger() *slog.Logger {
	return p.logger.With("plugin", p.Key())
}

func (p *Plugin) String() string {
	if v := p.Version(); v != "" {
		return p.Key() + "-" + v
	}
	return p.Key()
}
