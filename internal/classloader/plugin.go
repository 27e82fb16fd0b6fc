package classloader

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// PluginLoader isolates the entries of one plugin archive. Lookups search
// the outer archive, then the nested META-INF/lib archives in declaration
// order, then the parent. The outer archive is read into memory at
// construction, so the original file may be deleted afterwards.
type PluginLoader struct {
	*Delegating

	path   string
	outer  *Archive
	inner  *InnerArchives
	closed atomic.Bool
}

type pluginOptions struct {
	tempDir string
	logger  *slog.Logger
}

// PluginLoaderOption configures a PluginLoader.
type PluginLoaderOption func(*pluginOptions)

// WithTempDir sets the directory nested archives are extracted under.
// The directory must already exist.
func WithTempDir(dir string) PluginLoaderOption {
	return func(o *pluginOptions) {
		o.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PluginLoaderOption {
	return func(o *pluginOptions) {
		o.logger = logger
	}
}

// NewPluginLoader creates a loader for the archive at path. parent may be nil.
func NewPluginLoader(path string, parent Loader, opts ...PluginLoaderOption) (*PluginLoader, error) {
	o := pluginOptions{
		tempDir: os.TempDir(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(o.tempDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("temp dir %q does not exist: %w", o.tempDir, ErrInvalidArgument)
	}

	outer, err := OpenArchive(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin archive: %w", err)
	}

	inner := newInnerArchives(outer, o.tempDir, o.logger)
	providers := []Provider{outer, inner}
	if parent != nil {
		providers = append(providers, Parent(parent))
	}

	return &PluginLoader{
		Delegating: NewDelegating(path, providers...),
		path:       path,
		outer:      outer,
		inner:      inner,
	}, nil
}

// Path returns the archive path the loader was built from.
func (l *PluginLoader) Path() string {
	return l.path
}

// Archive returns the in-memory outer archive.
func (l *PluginLoader) Archive() *Archive {
	return l.outer
}

// InnerArchivePaths returns the extracted nested archives, extracting
// them first if needed.
func (l *PluginLoader) InnerArchivePaths() ([]string, error) {
	return l.inner.Paths()
}

// LoadClass resolves name unless the loader is closed.
func (l *PluginLoader) LoadClass(name string) (*Class, error) {
	if l.closed.Load() {
		return nil, &ClassNotFoundError{Name: name, Loader: l.path, Err: ErrLoaderClosed}
	}
	return l.Delegating.LoadClass(name)
}

// Resource returns the named entry unless the loader is closed.
func (l *PluginLoader) Resource(name string) (*Resource, bool) {
	if l.closed.Load() {
		return nil, false
	}
	return l.Delegating.Resource(name)
}

// Close removes extracted archives. Lookups fail afterwards.
func (l *PluginLoader) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.inner.Close()
}
