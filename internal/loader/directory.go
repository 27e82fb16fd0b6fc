package loader

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/scanner"
)

// DirectoryLoader loads the artifacts of a deployment directory. The
// first LoadAll reports every artifact; LoadNew reports only artifacts
// that appeared or changed since the previous call.
type DirectoryLoader struct {
	factories []ArtifactFactory
	opts      options

	// mu serialises scans; the scanner is not safe for concurrent use.
	mu      sync.Mutex
	scanner *scanner.Scanner
	loaded  map[string]*plugin.Plugin
}

// NewDirectoryLoader creates a loader for dir.
func NewDirectoryLoader(dir string, factories []ArtifactFactory, opts ...Option) *DirectoryLoader {
	o := buildOptions(opts)
	return &DirectoryLoader{
		factories: factories,
		opts:      o,
		scanner:   scanner.New(dir, scanner.WithLogger(o.logger)),
		loaded:    make(map[string]*plugin.Plugin),
	}
}

// Dir returns the deployment directory.
func (l *DirectoryLoader) Dir() string {
	return l.scanner.Dir()
}

// LoadAll forgets what was scanned before and loads every artifact.
func (l *DirectoryLoader) LoadAll(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scanner.Reset()
	return l.load(ctx, kinds)
}

// LoadNew loads artifacts that are new or modified since the last scan.
func (l *DirectoryLoader) LoadNew(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, kinds)
}

// load parses the changed units in parallel. Results keep scan order.
func (l *DirectoryLoader) load(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error) {
	units := l.scanner.Scan()
	if len(units) == 0 {
		return nil, nil
	}

	parser := NewParser(kinds, l.opts.logger)
	plugins := make([]*plugin.Plugin, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plugins[i] = createPlugin(u.Path(), l.factories, parser)
			return nil
		})
	}
	err := g.Wait()

	for i, u := range units {
		p := plugins[i]
		if p == nil {
			// Not parsed before cancellation; report it again next time.
			l.scanner.Clear(u.Path())
			continue
		}
		l.loaded[u.Path()] = p
		l.opts.logger.Info("loaded plugin artifact",
			"path", u.Path(),
			"plugin", p.Key(),
			"unloadable", p.IsUnloadable(),
		)
	}
	if err != nil {
		return compact(plugins), err
	}
	return plugins, nil
}

func compact(plugins []*plugin.Plugin) []*plugin.Plugin {
	out := plugins[:0]
	for _, p := range plugins {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// SupportsRemoval reports true.
func (l *DirectoryLoader) SupportsRemoval() bool {
	return true
}

// Remove deletes the artifact of p and forgets it, so a file of the same
// name deployed later is loaded again.
func (l *DirectoryLoader) Remove(p *plugin.Plugin) error {
	path := p.Artifact()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.loaded[path]; !ok || path == "" {
		return fmt.Errorf("%s: %w", p.Key(), ErrUnknownArtifact)
	}
	if !p.Capabilities().Deletable {
		return fmt.Errorf("%s: %w", p.Key(), ErrNotDeletable)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plugin artifact: %w", err)
	}

	delete(l.loaded, path)
	l.scanner.Clear(path)
	l.opts.logger.Info("removed plugin artifact", "path", path, "plugin", p.Key())
	return nil
}

// Owns reports whether p was loaded by this loader.
func (l *DirectoryLoader) Owns(p *plugin.Plugin) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[p.Artifact()]
	return ok
}
