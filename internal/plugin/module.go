package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/descriptor"
)

// ModuleDescriptor describes one module of a plugin. The module class is
// resolved when the descriptor is enabled and released when disabled.
type ModuleDescriptor struct {
	kind    *Kind
	factory *ModuleFactory
	logger  *slog.Logger

	mu                sync.RWMutex
	plugin            *Plugin
	key               string
	name              string
	i18nNameKey       string
	description       string
	descriptionKey    string
	className         string
	params            descriptor.Params
	resources         []Resource
	enabledByDefault  bool
	system            bool
	singleton         bool
	minRuntimeVersion float64
	element           *descriptor.Element

	strat   strategy
	prefix  string
	classID string

	createMu sync.Mutex
	enabled  bool
	resolved *Resolution
	instance any

	unloadable bool
	errText    string
}

// NewModuleDescriptor creates an uninitialised descriptor of kind.
func NewModuleDescriptor(kind *Kind, factory *ModuleFactory, logger *slog.Logger) *ModuleDescriptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModuleDescriptor{
		kind:             kind,
		factory:          factory,
		logger:           logger,
		enabledByDefault: true,
		singleton:        !kind.Prototype,
	}
}

// Init reads the module element and chooses how its class will be
// resolved. It returns a *ParseError for invalid declarations.
func (d *ModuleDescriptor) Init(p *Plugin, e *descriptor.Element) error {
	key := strings.TrimSpace(e.Attr("key"))
	if key == "" {
		return &ParseError{Key: pluginKey(p), Message: fmt.Sprintf("%s module without key", e.Name)}
	}

	if d.kind.Validate != nil {
		if err := d.kind.Validate(e); err != nil {
			return &ParseError{Key: pluginKey(p) + ":" + key, Message: err.Error(), Err: err}
		}
	}

	singleton := !d.kind.Prototype
	if v, ok := e.LookupAttr("singleton"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return &ParseError{Key: pluginKey(p) + ":" + key, Message: fmt.Sprintf("invalid singleton value %q", v), Err: err}
		}
		singleton = b
	}

	var minRuntime float64
	rv := e.Child("java-version")
	if rv == nil {
		rv = e.Child("runtime-version")
	}
	if rv != nil {
		if s := strings.TrimSpace(rv.Attr("min")); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return &ParseError{Key: pluginKey(p) + ":" + key, Message: fmt.Sprintf("invalid runtime version %q", s), Err: err}
			}
			minRuntime = f
		}
	}

	className := strings.TrimSpace(e.Attr("class"))
	strat, prefix, id, err := d.factory.choose(d.kind, className)
	if err != nil {
		return &ParseError{Key: pluginKey(p) + ":" + key, Message: err.Error(), Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugin = p
	d.key = key
	d.name = e.AttrOr("name", key)
	d.i18nNameKey = e.Attr("i18n-name-key")
	if desc := e.Child("description"); desc != nil {
		d.description = desc.Text
		d.descriptionKey = desc.Attr("key")
	}
	d.className = className
	d.params = descriptor.ParseParams(e)
	d.resources = descriptor.ParseResources(e)
	d.enabledByDefault = !strings.EqualFold(e.Attr("state"), "disabled")
	d.system = parseBool(e.Attr("system"))
	d.singleton = singleton
	d.minRuntimeVersion = minRuntime
	d.element = e
	d.strat, d.prefix, d.classID = strat, prefix, id
	return nil
}

func pluginKey(p *Plugin) string {
	if p == nil {
		return ""
	}
	return p.Key()
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// Kind returns the module kind.
func (d *ModuleDescriptor) Kind() *Kind {
	return d.kind
}

// Key returns the module key, unique within its plugin.
func (d *ModuleDescriptor) Key() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key
}

// CompleteKey returns "pluginKey:moduleKey" for the current owner.
func (d *ModuleDescriptor) CompleteKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return pluginKey(d.plugin) + ":" + d.key
}

// Plugin returns the owning plugin.
func (d *ModuleDescriptor) Plugin() *Plugin {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.plugin
}

// SetPlugin reassigns the owner; CompleteKey follows.
func (d *ModuleDescriptor) SetPlugin(p *Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugin = p
}

// Name returns the display name.
func (d *ModuleDescriptor) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// I18nNameKey returns the translation key of the name.
func (d *ModuleDescriptor) I18nNameKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.i18nNameKey
}

// Description returns the description and its translation key.
func (d *ModuleDescriptor) Description() (text, key string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.description, d.descriptionKey
}

// ClassName returns the class attribute as written.
func (d *ModuleDescriptor) ClassName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.className
}

// Params returns the module params.
func (d *ModuleDescriptor) Params() descriptor.Params {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.params
}

// Resources returns the module resources.
func (d *ModuleDescriptor) Resources() []Resource {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Resource(nil), d.resources...)
}

// Element returns the element the descriptor was initialised from.
func (d *ModuleDescriptor) Element() *descriptor.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.element
}

// EnabledByDefault reports the default enablement.
func (d *ModuleDescriptor) EnabledByDefault() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabledByDefault && !d.unloadable
}

// IsSystem reports whether the module belongs to the host.
func (d *ModuleDescriptor) IsSystem() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.system
}

// IsSingleton reports whether Module returns a shared instance.
func (d *ModuleDescriptor) IsSingleton() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.singleton
}

// MinRuntimeVersion returns the minimum runtime version, 0 if unset.
func (d *ModuleDescriptor) MinRuntimeVersion() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.minRuntimeVersion
}

// SatisfiesMinRuntimeVersion reports whether a host running runtime
// version v may enable the module.
func (d *ModuleDescriptor) SatisfiesMinRuntimeVersion(v float64) bool {
	floor := d.MinRuntimeVersion()
	return floor == 0 || v >= floor
}

// RequiresRestart reports whether the kind can only change at startup.
func (d *ModuleDescriptor) RequiresRestart() bool {
	return d.kind.RequiresRestart
}

// CannotDisable reports whether the kind refuses to be disabled.
func (d *ModuleDescriptor) CannotDisable() bool {
	return d.kind.CannotDisable
}

// IsUnloadable reports whether the descriptor stands in for a module
// that failed.
func (d *ModuleDescriptor) IsUnloadable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unloadable
}

// ErrorText returns why the module could not be loaded.
func (d *ModuleDescriptor) ErrorText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errText
}

// IsEnabled reports whether the module is enabled.
func (d *ModuleDescriptor) IsEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Class returns the resolved class, or nil when disabled or when the
// module was not resolved through a loader.
func (d *ModuleDescriptor) Class() *classloader.Class {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.resolved == nil {
		return nil
	}
	return d.resolved.Class
}

// ResolvedClassName returns the name the class was resolved under.
func (d *ModuleDescriptor) ResolvedClassName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.resolved == nil {
		return ""
	}
	return d.resolved.ClassName
}

// Enabled resolves the module class and marks the module enabled.
// Linkage errors are logged and returned as is; other failures are
// returned as *ClassResolutionError.
func (d *ModuleDescriptor) Enabled(ctx context.Context) error {
	if d.IsUnloadable() {
		return fmt.Errorf("module %s: %w: %s", d.CompleteKey(), ErrUnloadable, d.ErrorText())
	}
	if d.IsEnabled() {
		return nil
	}

	res, err := d.factory.resolve(ctx, d)
	if err != nil {
		if errors.Is(err, ErrLinkage) {
			d.logger.Error("linkage error resolving module class",
				"module", d.CompleteKey(),
				"class", d.ClassName(),
				"error", err,
			)
			return err
		}
		var cre *ClassResolutionError
		if !errors.As(err, &cre) {
			err = &ClassResolutionError{ClassName: d.ClassName(), Err: err}
		}
		return err
	}

	d.mu.Lock()
	d.resolved = res
	d.enabled = true
	d.mu.Unlock()

	d.logger.Debug("module enabled",
		"module", d.CompleteKey(),
		"class", res.ClassName,
		"strategy", d.strat.String(),
	)
	return nil
}

// Disabled releases the resolved class and any singleton instance.
func (d *ModuleDescriptor) Disabled() {
	d.mu.Lock()
	inst := d.instance
	d.instance = nil
	d.resolved = nil
	d.enabled = false
	d.mu.Unlock()

	if c, ok := inst.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Warn("closing module instance", "module", d.CompleteKey(), "error", err)
		}
	}
}

// Module returns the module instance. Singletons are created once per
// enablement.
func (d *ModuleDescriptor) Module(ctx context.Context) (any, error) {
	d.mu.RLock()
	singleton := d.singleton
	d.mu.RUnlock()

	if singleton {
		d.createMu.Lock()
		defer d.createMu.Unlock()
	}

	d.mu.RLock()
	res, inst, enabled := d.resolved, d.instance, d.enabled
	completeKey := pluginKey(d.plugin) + ":" + d.key
	d.mu.RUnlock()

	if !enabled || res == nil {
		return nil, fmt.Errorf("module %s: %w", completeKey, ErrModuleNotEnabled)
	}
	if singleton && inst != nil {
		return inst, nil
	}

	created, err := res.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating module %s: %w", completeKey, err)
	}
	if singleton {
		d.mu.Lock()
		if d.resolved == res {
			d.instance = created
		}
		d.mu.Unlock()
	}
	return created, nil
}

// ModuleAs returns the module instance converted to T.
func ModuleAs[T any](ctx context.Context, d *ModuleDescriptor) (T, error) {
	var zero T
	inst, err := d.Module(ctx)
	if err != nil {
		return zero, err
	}
	v, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("module %s is %T, not the requested type", d.CompleteKey(), inst)
	}
	return v, nil
}
