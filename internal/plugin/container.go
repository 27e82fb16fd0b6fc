package plugin

import (
	"context"
	"reflect"
	"sync"
)

// Constructor creates a module instance.
type Constructor func(ctx context.Context) (any, error)

// Container is the host's registry of module constructors and shared
// beans. Module classes are instantiated through it.
type Container struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	types        map[reflect.Type]Constructor
	beans        map[string]any
	prefixes     map[string]PrefixFactory
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		constructors: make(map[string]Constructor),
		types:        make(map[reflect.Type]Constructor),
		beans:        make(map[string]any),
		prefixes:     make(map[string]PrefixFactory),
	}
}

// TypeName returns the class name used for t, e.g. "example.com/pkg.Greeter".
func TypeName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// RegisterConstructor registers fn under a class name.
func (c *Container) RegisterConstructor(className string, fn Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constructors[className] = fn
}

// Provide registers fn as the constructor for T, both by type and by
// the type's class name.
func Provide[T any](c *Container, fn func(ctx context.Context) (T, error)) {
	t := reflect.TypeFor[T]()
	ctor := func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[t] = ctor
	c.constructors[TypeName(t)] = ctor
}

// RegisterBean registers a shared instance.
func (c *Container) RegisterBean(name string, bean any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beans[name] = bean
}

// RegisterPrefix publishes a module factory prefix discovered from the
// container. Prefixes registered on the ModuleFactory take precedence.
func (c *Container) RegisterPrefix(prefix string, f PrefixFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes[prefix] = f
}

// Constructor returns the constructor registered for className.
func (c *Container) Constructor(className string) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.constructors[className]
	return fn, ok
}

// TypeConstructor returns the constructor registered for t. An
// interface type matches any registered type implementing it when
// exactly one does.
func (c *Container) TypeConstructor(t reflect.Type) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if fn, ok := c.types[t]; ok {
		return fn, true
	}
	if t.Kind() != reflect.Interface {
		return nil, false
	}

	var found Constructor
	n := 0
	for rt, fn := range c.types {
		if rt.Implements(t) {
			found = fn
			n++
		}
	}
	return found, n == 1
}

// Bean returns a shared instance.
func (c *Container) Bean(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.beans[name]
	return b, ok
}

// Prefix returns a container-discovered prefix factory.
func (c *Container) Prefix(prefix string) (PrefixFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.prefixes[prefix]
	return f, ok
}
