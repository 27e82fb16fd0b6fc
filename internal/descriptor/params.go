package descriptor

// Params is an insertion-ordered string map.
type Params struct {
	keys   []string
	values map[string]string
}

// ParseParams reads <param name="..." value="..."/> children of e. A
// param without a value attribute uses its text.
func ParseParams(e *Element) Params {
	var p Params
	for _, c := range e.ChildrenNamed("param") {
		name := c.Attr("name")
		if name == "" {
			continue
		}
		v, ok := c.LookupAttr("value")
		if !ok {
			v = c.Text
		}
		p.Set(name, v)
	}
	return p
}

// Set adds or replaces a value, keeping the original position.
func (p *Params) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (p Params) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len returns the number of params.
func (p Params) Len() int {
	return len(p.keys)
}

// Map returns a copy of the params.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p.keys))
	for _, k := range p.keys {
		m[k] = p.values[k]
	}
	return m
}
