package loader

import (
	"context"
	"fmt"
	"io/fs"
	"path"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/plugin"
)

// ClassPathLoader loads the descriptors bundled with the host. Every file
// named like the descriptor anywhere in the file system is a plugin;
// classes resolve through the host loader. Bundled plugins cannot be
// uninstalled.
type ClassPathLoader struct {
	fsys fs.FS
	host classloader.Loader
	opts options
}

// NewClassPathLoader creates a loader over fsys. When host is nil the
// classes are looked up in fsys itself.
func NewClassPathLoader(fsys fs.FS, host classloader.Loader, opts ...Option) *ClassPathLoader {
	if host == nil {
		host = classloader.NewFSLoader("classpath", fsys)
	}
	return &ClassPathLoader{fsys: fsys, host: host, opts: buildOptions(opts)}
}

// LoadAll parses every descriptor in lexical path order.
func (l *ClassPathLoader) LoadAll(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error) {
	var found []string
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Base(p) == l.opts.descriptorName {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching for %s: %w", l.opts.descriptorName, err)
	}

	parser := NewParser(kinds, l.opts.logger)
	plugins := make([]*plugin.Plugin, 0, len(found))
	for _, p := range found {
		if err := ctx.Err(); err != nil {
			return plugins, err
		}

		popts := []plugin.Option{
			plugin.WithClassLoader(l.host),
			plugin.WithArtifact(p),
			plugin.WithLogger(l.opts.logger),
		}
		data, err := fs.ReadFile(l.fsys, p)
		if err != nil {
			plugins = append(plugins, plugin.NewUnloadable(p, err, popts...))
			continue
		}
		plugins = append(plugins, parser.Parse(p, data, popts...))
	}
	return plugins, nil
}
