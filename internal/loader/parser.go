package loader

import (
	"log/slog"
	"path/filepath"

	"github.com/dshills/plughost/internal/descriptor"
	"github.com/dshills/plughost/internal/plugin"
)

// Parser builds plugins from descriptor documents, creating module
// descriptors through a kind registry.
type Parser struct {
	kinds  *plugin.Kinds
	logger *slog.Logger
}

// NewParser creates a parser for kinds.
func NewParser(kinds *plugin.Kinds, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{kinds: kinds, logger: logger}
}

// Parse builds a plugin from the descriptor in data. source names the
// artifact in errors and is used as the key when the root element or its
// key cannot be read. A document that fails after its key is known gives
// a placeholder keeping the key, name and version. opts are applied to
// the plugin, or to the placeholder when the plugin is unloadable.
//
// A module element of an unknown kind, or one that fails to initialise,
// becomes an unloadable module. A malformed document or a duplicate
// module key makes the whole plugin unloadable.
func (ps *Parser) Parse(source string, data []byte, opts ...plugin.Option) *plugin.Plugin {
	doc, err := descriptor.ParseBytes(source, data)
	if err != nil {
		ps.logger.Warn("cannot parse plugin descriptor", "source", source, "error", err)
		if doc != nil {
			return plugin.Unloadable(plugin.FromDocument(doc, opts...), err)
		}
		return plugin.NewUnloadable(artifactKey(source), err, opts...)
	}
	return ps.FromDocument(doc, opts...)
}

// FromDocument builds a plugin from an already parsed document.
func (ps *Parser) FromDocument(doc *descriptor.Document, opts ...plugin.Option) *plugin.Plugin {
	p := plugin.FromDocument(doc, opts...)

	for _, e := range doc.Modules {
		d := ps.module(p, e)
		if err := p.AddModule(d); err != nil {
			ps.logger.Warn("plugin is unloadable", "plugin", p.Key(), "error", err)
			return plugin.Unloadable(p, err)
		}
	}
	return p
}

func (ps *Parser) module(p *plugin.Plugin, e *descriptor.Element) *plugin.ModuleDescriptor {
	key := e.Attr("key")
	if key == "" {
		key = e.Name
	}

	d, err := ps.kinds.NewModule(e.Name)
	if err != nil {
		ps.logger.Warn("unknown module kind",
			"plugin", p.Key(),
			"module", key,
			"kind", e.Name,
		)
		return plugin.NewUnloadableModule(p, e.Name, key, err)
	}
	if err := d.Init(p, e); err != nil {
		ps.logger.Warn("cannot initialise module",
			"plugin", p.Key(),
			"module", key,
			"error", err,
		)
		return plugin.NewUnloadableModule(p, e.Name, key, err)
	}
	return d
}

// artifactKey derives a placeholder key from an artifact path.
func artifactKey(source string) string {
	return filepath.Base(source)
}
