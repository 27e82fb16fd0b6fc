package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Element names with a fixed meaning under the root.
const (
	ElementPluginInfo = "plugin-info"
	ElementResource   = "resource"
)

// Descriptor errors.
var (
	// ErrMissingKey is returned when the root element has no key.
	ErrMissingKey = errors.New("plugin key is required")

	// ErrInvalidKey is returned when a plugin key contains ':'.
	ErrInvalidKey = errors.New("plugin key must not contain ':'")
)

// Document is a parsed plugin descriptor.
type Document struct {
	Key              string
	Name             string
	I18nNameKey      string
	System           bool
	EnabledByDefault bool
	PluginsVersion   int
	Info             Info
	Resources        []Resource
	Modules          []*Element
	Root             *Element
}

// Info is the plugin-info block.
type Info struct {
	Description       string
	DescriptionKey    string
	Version           string
	VendorName        string
	VendorURL         string
	MinVersion        float64
	MaxVersion        float64
	MinRuntimeVersion float64
	Params            Params
	Dependencies      []Dependency
}

// Dependency names another plugin this one needs.
type Dependency struct {
	Key      string
	Optional bool
}

// Resource describes a named resource attached to a plugin or module.
type Resource struct {
	Type     string
	Name     string
	Location string
	Content  string
	Params   Params
}

// ParseDocument parses a complete plugin descriptor.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return FromElement(root)
}

// ParseBytes parses a descriptor held in memory, naming it source in errors.
// Like FromElement it returns the partial document with the error once
// the plugin key is known.
func ParseBytes(source string, data []byte) (*Document, error) {
	doc, err := ParseDocument(bytes.NewReader(data))
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Source == "" {
			pe.Source = source
		}
		return doc, err
	}
	return doc, nil
}

// FromElement builds a Document from an already parsed root.
//
// When the root carries a valid key, a document error is returned together
// with the partial document so callers can still identify the plugin by
// its key, name and version. Modules are not collected in that case.
func FromElement(root *Element) (*Document, error) {
	key := strings.TrimSpace(root.Attr("key"))
	if key == "" {
		return nil, &ParseError{Message: ErrMissingKey.Error(), Err: ErrMissingKey}
	}
	if strings.Contains(key, ":") {
		return nil, &ParseError{Message: fmt.Sprintf("%s: %q", ErrInvalidKey, key), Err: ErrInvalidKey}
	}

	doc := &Document{
		Key:              key,
		Name:             root.Attr("name"),
		I18nNameKey:      root.Attr("i18n-name-key"),
		System:           parseBool(root.Attr("system")),
		EnabledByDefault: !strings.EqualFold(root.Attr("state"), "disabled"),
		PluginsVersion:   1,
		Root:             root,
	}

	pv := root.Attr("pluginsVersion")
	if pv == "" {
		pv = root.Attr("plugins-version")
	}
	var firstErr error
	if pv != "" {
		n, err := strconv.Atoi(strings.TrimSpace(pv))
		if err != nil {
			firstErr = &ParseError{Message: fmt.Sprintf("invalid plugins version %q", pv), Err: err}
		} else {
			doc.PluginsVersion = n
		}
	}

	for _, child := range root.Children {
		switch child.Name {
		case ElementPluginInfo:
			info, err := parseInfo(child)
			doc.Info = info
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case ElementResource:
			doc.Resources = append(doc.Resources, parseResource(child))
		default:
			doc.Modules = append(doc.Modules, child)
		}
	}

	if firstErr != nil {
		doc.Modules = nil
		return doc, firstErr
	}
	return doc, nil
}

func parseInfo(e *Element) (Info, error) {
	info := Info{
		Version: e.ChildText("version"),
		Params:  ParseParams(e),
	}

	if d := e.Child("description"); d != nil {
		info.Description = d.Text
		info.DescriptionKey = d.Attr("key")
	}
	if v := e.Child("vendor"); v != nil {
		info.VendorName = v.Attr("name")
		info.VendorURL = v.Attr("url")
	}

	var err error
	if av := e.Child("application-version"); av != nil {
		if info.MinVersion, err = parseFloat(av.Attr("min")); err != nil {
			return info, err
		}
		if info.MaxVersion, err = parseFloat(av.Attr("max")); err != nil {
			return info, err
		}
	}

	rv := e.Child("java-version")
	if rv == nil {
		rv = e.Child("runtime-version")
	}
	if rv != nil {
		if info.MinRuntimeVersion, err = parseFloat(rv.Attr("min")); err != nil {
			return info, err
		}
	}

	if deps := e.Child("dependencies"); deps != nil {
		for _, d := range deps.ChildrenNamed("dependency") {
			key := strings.TrimSpace(d.Attr("key"))
			if key == "" {
				key = d.Text
			}
			if key == "" {
				return info, &ParseError{Message: "dependency without key"}
			}
			info.Dependencies = append(info.Dependencies, Dependency{
				Key:      key,
				Optional: parseBool(d.Attr("optional")),
			})
		}
	}

	return info, nil
}

// ParseResources returns the resource children of e.
func ParseResources(e *Element) []Resource {
	var out []Resource
	for _, r := range e.ChildrenNamed(ElementResource) {
		out = append(out, parseResource(r))
	}
	return out
}

func parseResource(e *Element) Resource {
	return Resource{
		Type:     e.Attr("type"),
		Name:     e.Attr("name"),
		Location: e.Attr("location"),
		Content:  e.Text,
		Params:   ParseParams(e),
	}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Message: fmt.Sprintf("invalid version number %q", s), Err: err}
	}
	return f, nil
}
