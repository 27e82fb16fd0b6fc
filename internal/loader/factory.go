package loader

import (
	"archive/zip"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/plugin"
)

// ArtifactFactory creates plugins from one kind of artifact file.
type ArtifactFactory interface {
	// CanCreate reports whether the factory handles the file at path.
	CanCreate(path string) bool

	// Create builds the plugin. Failures produce an unloadable plugin.
	Create(path string, parser *Parser) *plugin.Plugin
}

// dynamic are the capabilities of plugins deployed from a directory.
var dynamic = plugin.Capabilities{Uninstallable: true, Deletable: true, Dynamic: true}

// XMLFactory loads bare descriptor files. Their module classes come from
// the host loader.
type XMLFactory struct {
	Host   classloader.Loader
	Logger *slog.Logger
}

// NewXMLFactory creates a factory for *.xml descriptors.
func NewXMLFactory(host classloader.Loader, logger *slog.Logger) *XMLFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &XMLFactory{Host: host, Logger: logger}
}

// CanCreate reports whether path is an XML file.
func (f *XMLFactory) CanCreate(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml") && isFile(path)
}

// Create parses the descriptor file.
func (f *XMLFactory) Create(path string, parser *Parser) *plugin.Plugin {
	opts := []plugin.Option{
		plugin.WithArtifact(path),
		plugin.WithCapabilities(dynamic),
		plugin.WithLogger(f.Logger),
	}
	if f.Host != nil {
		opts = append(opts, plugin.WithClassLoader(f.Host))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		f.Logger.Warn("cannot read plugin descriptor", "path", path, "error", err)
		return plugin.NewUnloadable(artifactKey(path), err, opts...)
	}
	return parser.Parse(path, data, opts...)
}

// ArchiveFactory loads jar and zip archives that carry a descriptor
// entry. Each plugin gets its own classloader.PluginLoader.
type ArchiveFactory struct {
	DescriptorName string
	TempDir        string
	Parent         classloader.Loader
	Logger         *slog.Logger
}

// NewArchiveFactory creates a factory for archives holding
// descriptorName. Nested archives are extracted under tempDir, which
// must exist.
func NewArchiveFactory(descriptorName, tempDir string, parent classloader.Loader, logger *slog.Logger) *ArchiveFactory {
	if descriptorName == "" {
		descriptorName = DefaultDescriptorName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveFactory{
		DescriptorName: descriptorName,
		TempDir:        tempDir,
		Parent:         parent,
		Logger:         logger,
	}
}

// CanCreate reports whether path is an archive with a descriptor entry.
func (f *ArchiveFactory) CanCreate(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip":
	default:
		return false
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()
	for _, zf := range r.File {
		if zf.Name == f.DescriptorName {
			return true
		}
	}
	return false
}

// Create opens the archive and parses its descriptor.
func (f *ArchiveFactory) Create(path string, parser *Parser) *plugin.Plugin {
	base := []plugin.Option{
		plugin.WithArtifact(path),
		plugin.WithCapabilities(dynamic),
		plugin.WithLogger(f.Logger),
	}

	opts := []classloader.PluginLoaderOption{classloader.WithLogger(f.Logger)}
	if f.TempDir != "" {
		opts = append(opts, classloader.WithTempDir(f.TempDir))
	}
	l, err := classloader.NewPluginLoader(path, f.Parent, opts...)
	if err != nil {
		f.Logger.Warn("cannot open plugin archive", "path", path, "error", err)
		return plugin.NewUnloadable(artifactKey(path), err, base...)
	}

	withLoader := append(base,
		plugin.WithBehavior(plugin.ArchiveBehavior{Loader: l}),
		plugin.WithClassLoader(l),
	)

	data, err := l.Archive().Open(f.DescriptorName)
	if err != nil {
		err = fmt.Errorf("reading %s: %w", f.DescriptorName, err)
		f.Logger.Warn("cannot read plugin descriptor", "path", path, "error", err)
		return plugin.NewUnloadable(artifactKey(path), err, withLoader...)
	}
	return parser.Parse(path, data, withLoader...)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// createPlugin hands path to the first factory that accepts it.
func createPlugin(path string, factories []ArtifactFactory, parser *Parser) *plugin.Plugin {
	for _, f := range factories {
		if f.CanCreate(path) {
			return f.Create(path, parser)
		}
	}
	return plugin.NewUnloadable(artifactKey(path),
		fmt.Errorf("no plugin factory accepts %s", filepath.Base(path)),
		plugin.WithArtifact(path),
		plugin.WithCapabilities(dynamic),
	)
}
