// Package loader turns plugin artifacts into plugin.Plugin values.
//
// Three loaders cover the usual sources:
//
//   - ClassPathLoader reads descriptors bundled with the host in an fs.FS.
//   - SingleLoader loads one artifact file.
//   - DirectoryLoader loads every artifact in a deployment directory and
//     picks up new or changed ones on each LoadNew.
//
// Artifacts are recognised by an ArtifactFactory: XMLFactory handles bare
// descriptor files and ArchiveFactory handles jar and zip archives that
// carry a descriptor entry. Loading never fails as a whole because of one
// bad artifact. Broken artifacts become unloadable plugins that keep
// their key and error text.
package loader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dshills/plughost/internal/plugin"
)

// DefaultDescriptorName is the descriptor entry looked up in archives.
const DefaultDescriptorName = "plugin.xml"

var (
	// ErrRemovalUnsupported is returned by Remove on loaders that cannot
	// delete artifacts.
	ErrRemovalUnsupported = errors.New("loader does not support plugin removal")

	// ErrUnknownArtifact is returned when a plugin was not loaded by the
	// loader asked to remove it.
	ErrUnknownArtifact = errors.New("plugin artifact is not managed by this loader")

	// ErrNotDeletable is returned when removing a plugin whose artifact
	// must not be deleted.
	ErrNotDeletable = errors.New("plugin artifact is not deletable")
)

// PluginLoader produces the plugins of one source.
type PluginLoader interface {
	// LoadAll loads every plugin the source currently holds.
	LoadAll(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error)
}

// DynamicLoader is a PluginLoader whose source changes at runtime.
type DynamicLoader interface {
	PluginLoader

	// LoadNew loads plugins added or modified since the last call.
	LoadNew(ctx context.Context, kinds *plugin.Kinds) ([]*plugin.Plugin, error)

	// SupportsRemoval reports whether Remove can delete artifacts.
	SupportsRemoval() bool

	// Remove deletes the artifact p was loaded from.
	Remove(p *plugin.Plugin) error
}

// Option configures a loader.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	descriptorName string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDescriptorName sets the descriptor file name looked up by
// ClassPathLoader.
func WithDescriptorName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.descriptorName = name
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:         slog.Default(),
		descriptorName: DefaultDescriptorName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
