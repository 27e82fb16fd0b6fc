package admin

import (
	"time"

	"github.com/dshills/plughost/internal/plugin"
)

// PluginView is the JSON form of a plugin.
type PluginView struct {
	Key        string       `json:"key"`
	Name       string       `json:"name,omitempty"`
	Version    string       `json:"version,omitempty"`
	State      string       `json:"state"`
	Enabled    bool         `json:"enabled"`
	System     bool         `json:"system,omitempty"`
	Unloadable bool         `json:"unloadable,omitempty"`
	Error      string       `json:"error,omitempty"`
	Artifact   string       `json:"artifact,omitempty"`
	Loaded     time.Time    `json:"loaded"`
	Modules    []ModuleView `json:"modules,omitempty"`
}

// ModuleView is the JSON form of a module descriptor.
type ModuleView struct {
	Key        string `json:"key"`
	Kind       string `json:"kind,omitempty"`
	Name       string `json:"name,omitempty"`
	Class      string `json:"class,omitempty"`
	Enabled    bool   `json:"enabled"`
	Unloadable bool   `json:"unloadable,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewPluginView describes p, with its modules when modules is true.
func NewPluginView(p *plugin.Plugin, modules bool) PluginView {
	v := PluginView{
		Key:        p.Key(),
		Name:       p.Name(),
		Version:    p.Version(),
		State:      p.State().String(),
		Enabled:    p.State().IsEnabled(),
		System:     p.IsSystem(),
		Unloadable: p.IsUnloadable(),
		Error:      p.ErrorText(),
		Artifact:   p.Artifact(),
		Loaded:     p.DateLoaded(),
	}
	if !modules {
		return v
	}
	for _, d := range p.Modules() {
		m := ModuleView{
			Key:        d.CompleteKey(),
			Name:       d.Name(),
			Class:      d.ClassName(),
			Enabled:    d.IsEnabled(),
			Unloadable: d.IsUnloadable(),
			Error:      d.ErrorText(),
		}
		if k := d.Kind(); k != nil {
			m.Kind = k.Name
		}
		v.Modules = append(v.Modules, m)
	}
	return v
}
