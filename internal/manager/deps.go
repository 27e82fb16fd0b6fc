package manager

import (
	"slices"

	"github.com/dshills/plughost/internal/descriptor"
	"github.com/dshills/plughost/internal/plugin"
)

// sortByDependencies orders plugins so each follows the plugins of the
// set it depends on, optional dependencies included. Input order breaks
// ties. Plugins on a cycle, or depending on one, are returned in cyclic.
func sortByDependencies(plugins []*plugin.Plugin) (sorted, cyclic []*plugin.Plugin) {
	index := make(map[string]int, len(plugins))
	for i, p := range plugins {
		index[p.Key()] = i
	}

	pending := make([]int, len(plugins))
	for i, p := range plugins {
		deps := make(map[int]bool)
		for _, dep := range p.Info().Dependencies {
			if j, ok := index[dep.Key]; ok && j != i {
				deps[j] = true
			}
		}
		pending[i] = len(deps)
	}

	done := make([]bool, len(plugins))
	for progress := true; progress; {
		progress = false
		for i, p := range plugins {
			if done[i] || pending[i] > 0 {
				continue
			}
			done[i] = true
			progress = true
			sorted = append(sorted, p)
			for j, q := range plugins {
				if !done[j] && j != i && requiresKey(q, p.Key(), true) {
					pending[j]--
				}
			}
			// Restart so earlier plugins that just became ready go first.
			break
		}
	}

	for i, p := range plugins {
		if !done[i] {
			cyclic = append(cyclic, p)
		}
	}
	return sorted, cyclic
}

// requiresKey reports whether p declares a dependency on key. Optional
// dependencies count only when optional is true.
func requiresKey(p *plugin.Plugin, key string, optional bool) bool {
	return slices.ContainsFunc(p.Info().Dependencies, func(d descriptor.Dependency) bool {
		return d.Key == key && (optional || !d.Optional)
	})
}

// dependents returns the plugins of candidates that require key,
// directly or through each other.
func dependents(candidates []*plugin.Plugin, key string) []*plugin.Plugin {
	seen := map[string]bool{key: true}
	queue := []string{key}
	var out []*plugin.Plugin
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, p := range candidates {
			if seen[p.Key()] || !requiresKey(p, k, false) {
				continue
			}
			seen[p.Key()] = true
			out = append(out, p)
			queue = append(queue, p.Key())
		}
	}
	return out
}

// dependencyClosure adds to plugins the installed, not yet enabled
// plugins they depend on, transitively. Unloadable dependencies are left
// out; their dependents fail when enabled.
func dependencyClosure(plugins []*plugin.Plugin, lookup func(string) (*plugin.Plugin, bool)) []*plugin.Plugin {
	seen := make(map[string]bool, len(plugins))
	out := make([]*plugin.Plugin, 0, len(plugins))
	var visit func(p *plugin.Plugin)
	visit = func(p *plugin.Plugin) {
		if seen[p.Key()] {
			return
		}
		seen[p.Key()] = true
		for _, dep := range p.Info().Dependencies {
			d, ok := lookup(dep.Key)
			if !ok || d.IsUnloadable() || d.State().IsEnabled() {
				continue
			}
			visit(d)
		}
		out = append(out, p)
	}
	for _, p := range plugins {
		visit(p)
	}
	return out
}
