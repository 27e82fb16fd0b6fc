package plugin

import "log/slog"

// Unloadable returns a placeholder for src that keeps its identity and
// reports err. The placeholder can be installed and listed but never
// enabled.
func Unloadable(src *Plugin, err error) *Plugin {
	p := New(src.Key(),
		WithBehavior(unloadableBehavior{inner: src.behavior}),
		WithCapabilities(src.caps),
		WithArtifact(src.artifact),
		WithLogger(src.logger),
	)
	src.mu.RLock()
	p.name = src.name
	p.i18nNameKey = src.i18nNameKey
	p.pluginsVersion = src.pluginsVersion
	p.system = src.system
	p.info = src.info
	p.resources = src.resources
	src.mu.RUnlock()
	p.enabledByDefault = false
	p.errText = errorText(err)
	return p
}

// NewUnloadable creates a placeholder for a plugin that failed before
// its descriptor could be read. key is usually the artifact name. A
// behavior passed in opts is still closed with the placeholder.
func NewUnloadable(key string, err error, opts ...Option) *Plugin {
	p := New(key, opts...)
	p.behavior = unloadableBehavior{inner: p.behavior}
	p.enabledByDefault = false
	p.errText = errorText(err)
	return p
}

// NewUnloadableModule creates a placeholder for a module element that
// failed to initialise.
func NewUnloadableModule(p *Plugin, kind, key string, err error) *ModuleDescriptor {
	d := &ModuleDescriptor{
		kind:       &Kind{Name: kind},
		logger:     slog.Default(),
		key:        key,
		name:       key,
		unloadable: true,
		errText:    errorText(err),
	}
	d.SetPlugin(p)
	return d
}

// UnloadableModule returns a placeholder for d that keeps its key, name
// and owning plugin.
func UnloadableModule(d *ModuleDescriptor, err error) *ModuleDescriptor {
	d.mu.RLock()
	u := &ModuleDescriptor{
		kind:        d.kind,
		logger:      d.logger,
		key:         d.key,
		name:        d.name,
		i18nNameKey: d.i18nNameKey,
		description: d.description,
		className:   d.className,
		element:     d.element,
		plugin:      d.plugin,
		unloadable:  true,
		errText:     errorText(err),
	}
	d.mu.RUnlock()
	return u
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
