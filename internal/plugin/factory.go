package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/dshills/plughost/internal/classloader"
)

// Built-in module class prefixes.
const (
	PrefixClass = "class"
	PrefixBean  = "bean"
)

// Resolution is the outcome of resolving a module's class.
type Resolution struct {
	// ClassName is the name the module was resolved under.
	ClassName string
	// Class is set when the class was found through a loader.
	Class *classloader.Class
	// Type is set when the module was resolved from a Go type.
	Type reflect.Type
	// New creates a module instance.
	New Constructor
}

// PrefixFactory resolves module classes written as "prefix:identifier".
type PrefixFactory interface {
	Resolve(ctx context.Context, d *ModuleDescriptor, id string) (*Resolution, error)
}

// PrefixFunc adapts a function to PrefixFactory.
type PrefixFunc func(ctx context.Context, d *ModuleDescriptor, id string) (*Resolution, error)

// Resolve calls f.
func (f PrefixFunc) Resolve(ctx context.Context, d *ModuleDescriptor, id string) (*Resolution, error) {
	return f(ctx, d, id)
}

// strategy is how a descriptor's class is resolved. It is chosen once,
// during Init.
type strategy int

const (
	strategyLegacy strategy = iota
	strategyPrefix
	strategyGeneric
)

func (s strategy) String() string {
	switch s {
	case strategyLegacy:
		return "legacy"
	case strategyPrefix:
		return "prefix"
	case strategyGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// ModuleFactory resolves module classes. Three strategies are tried in
// a fixed order: a plain class name loaded from the plugin, a
// "prefix:identifier" form handled by a PrefixFactory, and inference
// from the kind's module type when no class is given.
type ModuleFactory struct {
	container *Container
	logger    *slog.Logger

	mu       sync.RWMutex
	prefixes map[string]PrefixFactory
}

// NewModuleFactory creates a factory backed by container, with the
// "class" and "bean" prefixes registered.
func NewModuleFactory(container *Container, logger *slog.Logger) *ModuleFactory {
	if container == nil {
		container = NewContainer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &ModuleFactory{
		container: container,
		logger:    logger,
		prefixes:  make(map[string]PrefixFactory),
	}
	f.prefixes[PrefixClass] = PrefixFunc(f.resolveClassPrefix)
	f.prefixes[PrefixBean] = PrefixFunc(f.resolveBean)
	return f
}

// Container returns the backing container.
func (f *ModuleFactory) Container() *Container {
	return f.container
}

// RegisterPrefix adds or replaces a prefix factory.
func (f *ModuleFactory) RegisterPrefix(prefix string, pf PrefixFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes[prefix] = pf
}

// prefix looks up an explicitly registered factory first, then one
// discovered in the container.
func (f *ModuleFactory) prefix(name string) (PrefixFactory, bool) {
	f.mu.RLock()
	pf, ok := f.prefixes[name]
	f.mu.RUnlock()
	if ok {
		return pf, true
	}
	return f.container.Prefix(name)
}

// choose picks the strategy for a class attribute.
func (f *ModuleFactory) choose(kind *Kind, class string) (strategy, string, string, error) {
	if class == "" {
		if kind.ModuleType == nil {
			return 0, "", "", errors.New("no module class specified")
		}
		return strategyGeneric, "", "", nil
	}

	prefix, id, found := strings.Cut(class, ":")
	if !found {
		return strategyLegacy, "", class, nil
	}
	if prefix == "" || id == "" {
		return 0, "", "", fmt.Errorf("malformed module class %q", class)
	}
	if _, ok := f.prefix(prefix); !ok {
		return 0, "", "", fmt.Errorf("unknown module factory prefix %q", prefix)
	}
	return strategyPrefix, prefix, id, nil
}

func (f *ModuleFactory) resolve(ctx context.Context, d *ModuleDescriptor) (*Resolution, error) {
	switch d.strat {
	case strategyLegacy:
		return f.resolveLegacy(ctx, d, d.classID)
	case strategyPrefix:
		pf, ok := f.prefix(d.prefix)
		if !ok {
			return nil, &ClassResolutionError{
				ClassName: d.ClassName(),
				Err:       fmt.Errorf("module factory prefix %q is no longer registered", d.prefix),
			}
		}
		return pf.Resolve(ctx, d, d.classID)
	case strategyGeneric:
		return f.resolveGeneric(d)
	default:
		return nil, fmt.Errorf("unknown resolution strategy %v", d.strat)
	}
}

// loaderFor returns the plugin's loader, falling back to the one in ctx.
func loaderFor(ctx context.Context, d *ModuleDescriptor) classloader.Loader {
	if p := d.Plugin(); p != nil {
		if l := p.ClassLoader(); l != nil {
			return l
		}
	}
	if l, ok := classloader.FromContext(ctx); ok {
		return l
	}
	return nil
}

func (f *ModuleFactory) loadClass(ctx context.Context, d *ModuleDescriptor, name string) (*Resolution, error) {
	l := loaderFor(ctx, d)
	if l == nil {
		return nil, &ClassResolutionError{ClassName: name, Err: errors.New("no class loader available")}
	}
	cls, err := l.LoadClass(name)
	if err != nil {
		return nil, &ClassResolutionError{ClassName: name, Err: err}
	}

	res := &Resolution{ClassName: name, Class: cls}
	if ctor, ok := f.container.Constructor(name); ok {
		res.New = ctor
	} else {
		res.New = func(context.Context) (any, error) {
			return nil, fmt.Errorf("class %q: %w", name, ErrNoConstructor)
		}
	}
	return res, nil
}

// resolveLegacy loads the class and, when the container can construct
// it, builds and discards one instance to surface construction errors
// early.
func (f *ModuleFactory) resolveLegacy(ctx context.Context, d *ModuleDescriptor, name string) (*Resolution, error) {
	res, err := f.loadClass(ctx, d, name)
	if err != nil {
		return nil, err
	}
	if _, ok := f.container.Constructor(name); !ok {
		return res, nil
	}

	inst, err := res.New(ctx)
	if err != nil {
		if errors.Is(err, ErrLinkage) {
			return nil, err
		}
		return nil, &ClassResolutionError{ClassName: name, Err: err}
	}
	if c, ok := inst.(io.Closer); ok {
		_ = c.Close()
	}
	return res, nil
}

func (f *ModuleFactory) resolveClassPrefix(ctx context.Context, d *ModuleDescriptor, id string) (*Resolution, error) {
	return f.loadClass(ctx, d, id)
}

func (f *ModuleFactory) resolveBean(_ context.Context, _ *ModuleDescriptor, id string) (*Resolution, error) {
	bean, ok := f.container.Bean(id)
	if !ok {
		return nil, &ClassResolutionError{ClassName: PrefixBean + ":" + id, Err: errors.New("no such bean")}
	}
	return &Resolution{
		ClassName: PrefixBean + ":" + id,
		Type:      reflect.TypeOf(bean),
		New: func(context.Context) (any, error) {
			return bean, nil
		},
	}, nil
}

func (f *ModuleFactory) resolveGeneric(d *ModuleDescriptor) (*Resolution, error) {
	t := d.Kind().ModuleType
	name := TypeName(t)
	ctor, ok := f.container.TypeConstructor(t)
	if !ok {
		return nil, &ClassResolutionError{ClassName: name, Err: ErrNoConstructor}
	}
	return &Resolution{ClassName: name, Type: t, New: ctor}, nil
}
