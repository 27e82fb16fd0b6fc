package plugin

import (
	"fmt"
	"maps"
	"slices"
)

// moduleSet is an immutable snapshot of a plugin's modules.
type moduleSet struct {
	order []string
	byKey map[string]*ModuleDescriptor
}

func (s *moduleSet) clone() *moduleSet {
	return &moduleSet{
		order: slices.Clone(s.order),
		byKey: maps.Clone(s.byKey),
	}
}

// Modules returns the module descriptors in declaration order.
func (p *Plugin) Modules() []*ModuleDescriptor {
	set := p.modules.Load()
	out := make([]*ModuleDescriptor, 0, len(set.order))
	for _, k := range set.order {
		out = append(out, set.byKey[k])
	}
	return out
}

// Module returns the descriptor with the given module key.
func (p *Plugin) Module(key string) (*ModuleDescriptor, bool) {
	d, ok := p.modules.Load().byKey[key]
	return d, ok
}

// ModulesOfKind returns the descriptors of one kind.
func (p *Plugin) ModulesOfKind(kind string) []*ModuleDescriptor {
	var out []*ModuleDescriptor
	for _, d := range p.Modules() {
		if d.Kind().Name == kind {
			out = append(out, d)
		}
	}
	return out
}

// AddModule appends a descriptor and makes p its owner.
func (p *Plugin) AddModule(d *ModuleDescriptor) error {
	p.modMu.Lock()
	defer p.modMu.Unlock()

	cur := p.modules.Load()
	if _, dup := cur.byKey[d.Key()]; dup {
		return &ParseError{
			Key:     p.Key(),
			Message: fmt.Sprintf("found duplicate key %q within plugin", d.Key()),
			Err:     ErrDuplicateModule,
		}
	}

	next := cur.clone()
	next.order = append(next.order, d.Key())
	next.byKey[d.Key()] = d
	d.SetPlugin(p)
	p.modules.Store(next)
	return nil
}

// ReplaceModule swaps the descriptor with the same key, keeping its
// position. It returns false when no such module exists.
func (p *Plugin) ReplaceModule(d *ModuleDescriptor) bool {
	p.modMu.Lock()
	defer p.modMu.Unlock()

	cur := p.modules.Load()
	if _, ok := cur.byKey[d.Key()]; !ok {
		return false
	}
	next := cur.clone()
	next.byKey[d.Key()] = d
	d.SetPlugin(p)
	p.modules.Store(next)
	return true
}

// RemoveModule drops the descriptor with the given key.
func (p *Plugin) RemoveModule(key string) (*ModuleDescriptor, bool) {
	p.modMu.Lock()
	defer p.modMu.Unlock()

	cur := p.modules.Load()
	d, ok := cur.byKey[key]
	if !ok {
		return nil, false
	}
	next := cur.clone()
	delete(next.byKey, key)
	next.order = slices.DeleteFunc(next.order, func(k string) bool { return k == key })
	p.modules.Store(next)
	return d, true
}

func (p *Plugin) clearModules() {
	p.modMu.Lock()
	defer p.modMu.Unlock()
	p.modules.Store(&moduleSet{byKey: map[string]*ModuleDescriptor{}})
}
