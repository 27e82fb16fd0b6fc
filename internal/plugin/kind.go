package plugin

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/dshills/plughost/internal/descriptor"
)

// Kind describes a family of module descriptors, identified by the
// element name used in plugin descriptors.
type Kind struct {
	// Name is the descriptor element name, e.g. "servlet" or "job".
	Name string

	// ModuleType is the type instances of this kind implement. It lets
	// modules omit the class attribute.
	ModuleType reflect.Type

	// RequiresRestart kinds cannot be enabled or disabled at runtime.
	RequiresRestart bool

	// CannotDisable kinds refuse to be disabled once enabled.
	CannotDisable bool

	// Prototype kinds create a new instance on every Module call unless
	// the descriptor sets singleton="true".
	Prototype bool

	// Validate checks kind specific attributes during Init.
	Validate func(e *descriptor.Element) error
}

// KindOf declares a kind whose modules implement T.
func KindOf[T any](name string) *Kind {
	return &Kind{Name: name, ModuleType: reflect.TypeFor[T]()}
}

// Kinds is the registry of module kinds known to the host.
type Kinds struct {
	mu      sync.RWMutex
	kinds   map[string]*Kind
	factory *ModuleFactory
	logger  *slog.Logger
}

// NewKinds creates a registry whose descriptors resolve classes through
// factory.
func NewKinds(factory *ModuleFactory, logger *slog.Logger) *Kinds {
	if factory == nil {
		factory = NewModuleFactory(NewContainer(), logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Kinds{
		kinds:   make(map[string]*Kind),
		factory: factory,
		logger:  logger,
	}
}

// Register adds a kind.
func (k *Kinds) Register(kind *Kind) error {
	if kind == nil || kind.Name == "" {
		return fmt.Errorf("kind name is required: %w", ErrUnknownKind)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.kinds[kind.Name]; exists {
		return fmt.Errorf("kind %q: %w", kind.Name, ErrDuplicateKind)
	}
	k.kinds[kind.Name] = kind
	return nil
}

// Unregister removes a kind.
func (k *Kinds) Unregister(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.kinds, name)
}

// Lookup returns the kind registered under name.
func (k *Kinds) Lookup(name string) (*Kind, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kind, ok := k.kinds[name]
	return kind, ok
}

// Names returns the registered kind names, sorted.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.kinds))
	for name := range k.kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Factory returns the module factory.
func (k *Kinds) Factory() *ModuleFactory {
	return k.factory
}

// NewModule creates an uninitialised descriptor for the named kind.
func (k *Kinds) NewModule(name string) (*ModuleDescriptor, error) {
	kind, ok := k.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownKind)
	}
	return NewModuleDescriptor(kind, k.factory, k.logger), nil
}
