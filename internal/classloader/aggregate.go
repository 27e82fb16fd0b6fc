package classloader

import (
	"log/slog"
	"sync"
)

// Owner is a plugin that contributes a loader to the aggregate.
type Owner interface {
	Key() string
	ClassLoader() Loader
}

// Aggregate resolves classes and resources across the host and every
// enabled plugin. The host is consulted first; then the enabled plugins
// in order, and the first match wins. Matches are cached by name and
// validated against the enabled set on every hit.
type Aggregate struct {
	host    Loader
	enabled func() []Owner
	logger  *slog.Logger

	mu             sync.RWMutex
	classOwners    map[string]string
	resourceOwners map[string]string
}

// NewAggregate creates an aggregate loader. host may be nil; enabled
// returns the currently enabled plugins.
func NewAggregate(host Loader, enabled func() []Owner, logger *slog.Logger) *Aggregate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregate{
		host:           host,
		enabled:        enabled,
		logger:         logger,
		classOwners:    make(map[string]string),
		resourceOwners: make(map[string]string),
	}
}

// LoadClass resolves name.
func (a *Aggregate) LoadClass(name string) (*Class, error) {
	cls, _, err := a.findClass(name)
	return cls, err
}

// OwnerOfClass returns the enabled plugin that supplies name. Classes
// served by the host have no owner.
func (a *Aggregate) OwnerOfClass(name string) (Owner, bool) {
	_, owner, err := a.findClass(name)
	if err != nil || owner == nil {
		return nil, false
	}
	return owner, true
}

func (a *Aggregate) findClass(name string) (*Class, Owner, error) {
	if a.host != nil {
		if cls, err := a.host.LoadClass(name); err == nil {
			return cls, nil, nil
		}
	}

	owners := a.enabled()

	if key, ok := a.cached(a.classOwners, name); ok {
		if o := ownerByKey(owners, key); o != nil {
			if cls, err := o.ClassLoader().LoadClass(name); err == nil {
				return cls, o, nil
			}
		}
		a.drop(a.classOwners, name, key)
	}

	for _, o := range owners {
		l := o.ClassLoader()
		if l == nil {
			continue
		}
		cls, err := l.LoadClass(name)
		if err != nil {
			continue
		}
		a.store(a.classOwners, name, o.Key())
		return cls, o, nil
	}

	return nil, nil, &ClassNotFoundError{Name: name, Loader: "plugins"}
}

// Resource returns the first matching resource.
func (a *Aggregate) Resource(name string) (*Resource, bool) {
	if a.host != nil {
		if res, ok := a.host.Resource(name); ok {
			return res, true
		}
	}

	owners := a.enabled()

	if key, ok := a.cached(a.resourceOwners, name); ok {
		if o := ownerByKey(owners, key); o != nil {
			if res, ok := o.ClassLoader().Resource(name); ok {
				return res, true
			}
		}
		a.drop(a.resourceOwners, name, key)
	}

	for _, o := range owners {
		l := o.ClassLoader()
		if l == nil {
			continue
		}
		if res, ok := l.Resource(name); ok {
			a.store(a.resourceOwners, name, o.Key())
			return res, true
		}
	}
	return nil, false
}

// Forget purges every cached entry pointing at the plugin key.
func (a *Aggregate) Forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for name, owner := range a.classOwners {
		if owner == key {
			delete(a.classOwners, name)
			n++
		}
	}
	for name, owner := range a.resourceOwners {
		if owner == key {
			delete(a.resourceOwners, name)
			n++
		}
	}
	if n > 0 {
		a.logger.Debug("purged plugin from class cache", "plugin", key, "entries", n)
	}
}

// Flush drops the whole cache.
func (a *Aggregate) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.classOwners)
	clear(a.resourceOwners)
}

// CachedOwner reports the owner recorded for a class, if any.
func (a *Aggregate) CachedOwner(name string) (string, bool) {
	return a.cached(a.classOwners, name)
}

func (a *Aggregate) cached(m map[string]string, name string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := m[name]
	return key, ok
}

func (a *Aggregate) store(m map[string]string, name, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m[name] = key
}

// drop deletes name only if it still points at key.
func (a *Aggregate) drop(m map[string]string, name, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m[name] == key {
		delete(m, name)
	}
}

func ownerByKey(owners []Owner, key string) Owner {
	for _, o := range owners {
		if o.Key() == key && o.ClassLoader() != nil {
			return o
		}
	}
	return nil
}
