// Package classloader resolves named classes and resources for plugins.
//
// A class is an entry in an archive: class "com.acme.Clash" lives at
// "com/acme/Clash.class". Loaders search an ordered list of providers
// and the first provider holding an entry wins. Each archive plugin gets
// its own PluginLoader so that plugins never see each other's entries;
// the Aggregate loader exposes the union of all enabled plugins to the
// host.
package classloader

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
)

// Class is a resolved class definition.
type Class struct {
	Name   string
	Entry  string
	Bytes  []byte
	Source string
}

// Resource is a named blob found through a loader.
type Resource struct {
	Name   string
	Data   []byte
	Source string
}

// Loader resolves classes and resources.
type Loader interface {
	// LoadClass returns the class or a *ClassNotFoundError.
	LoadClass(name string) (*Class, error)

	// Resource returns the resource, or nil and false when it is missing.
	Resource(name string) (*Resource, bool)
}

// Provider supplies raw entries. Open returns an error wrapping
// fs.ErrNotExist when the entry is absent.
type Provider interface {
	Name() string
	Open(entry string) ([]byte, error)
}

// classSource is implemented by providers that hand out classes already
// defined by another loader.
type classSource interface {
	loadClass(name string) (*Class, error)
}

// ClassEntry maps a class name to its entry path.
func ClassEntry(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}

// Search returns the first provider holding entry.
func Search(providers []Provider, entry string) ([]byte, Provider, error) {
	var errs []error
	for _, p := range providers {
		data, err := p.Open(entry)
		if err == nil {
			return data, p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("%s: %w", entry, errors.Join(append(errs, fs.ErrNotExist)...))
	}
	return nil, nil, fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
}

// Delegating is a Loader over an ordered provider list. Resolved classes
// are cached for the lifetime of the loader.
type Delegating struct {
	name      string
	providers []Provider

	mu      sync.RWMutex
	classes map[string]*Class
}

// NewDelegating creates a loader searching providers in order.
func NewDelegating(name string, providers ...Provider) *Delegating {
	return &Delegating{
		name:      name,
		providers: providers,
		classes:   make(map[string]*Class),
	}
}

// Name returns the loader name used in errors.
func (d *Delegating) Name() string {
	return d.name
}

// Providers returns the search order.
func (d *Delegating) Providers() []Provider {
	return append([]Provider(nil), d.providers...)
}

// LoadClass resolves a class, consulting the cache first.
func (d *Delegating) LoadClass(name string) (*Class, error) {
	d.mu.RLock()
	cls, ok := d.classes[name]
	d.mu.RUnlock()
	if ok {
		return cls, nil
	}

	entry := ClassEntry(name)
	var lastErr error
	for _, p := range d.providers {
		if src, ok := p.(classSource); ok {
			c, err := src.loadClass(name)
			if err == nil {
				return d.remember(c), nil
			}
			lastErr = err
			continue
		}

		data, err := p.Open(entry)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				lastErr = err
			}
			continue
		}
		return d.remember(&Class{Name: name, Entry: entry, Bytes: data, Source: p.Name()}), nil
	}

	if errors.Is(lastErr, ErrClassNotFound) {
		lastErr = nil
	}
	return nil, &ClassNotFoundError{Name: name, Loader: d.name, Err: lastErr}
}

// remember caches c unless another goroutine got there first.
func (d *Delegating) remember(c *Class) *Class {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.classes[c.Name]; ok {
		return existing
	}
	d.classes[c.Name] = c
	return c
}

// Resource returns the first matching entry.
func (d *Delegating) Resource(name string) (*Resource, bool) {
	data, p, err := Search(d.providers, name)
	if err != nil {
		return nil, false
	}
	return &Resource{Name: name, Data: data, Source: p.Name()}, true
}

// Loaded reports whether name has already been resolved.
func (d *Delegating) Loaded(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.classes[name]
	return ok
}
