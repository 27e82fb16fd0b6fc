package loader

import (
	"context"

	"github.com/dshills/plughost/internal/plugin"
)

// SingleLoader loads one artifact file.
type SingleLoader struct {
	path      string
	factories []ArtifactFactory
	opts      options
}

// NewSingleLoader creates a loader for the artifact at path.
func NewSingleLoader(path string, factories []ArtifactFactory, opts ...Option) *SingleLoader {
	return &SingleLoader{path: path, factories: factories, opts: buildOptions(opts)}
}

// LoadAll returns the plugin built from the artifact.
func (l *SingleLoader) LoadAll(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := createPlugin(l.path, l.factories, NewParser(kinds, l.opts.logger))
	return []*plugin.Plugin{p}, nil
}
