// Package descriptor parses plugin descriptor documents.
//
// A descriptor is an XML document whose root element describes the
// plugin and whose children describe plugin information, resources and
// modules. Module elements are kept as generic Element trees so module
// kinds can read whatever attributes they need.
package descriptor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Element is a node of a parsed descriptor.
type Element struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr(name)
	return v
}

// LookupAttr returns the attribute value and whether it is present.
func (e *Element) LookupAttr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the attribute value or def when absent or blank.
func (e *Element) AttrOr(name, def string) string {
	if v := strings.TrimSpace(e.Attr(name)); v != "" {
		return v
	}
	return def
}

// Child returns the first child with the given name.
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child with the given name.
func (e *Element) ChildrenNamed(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ChildText returns the trimmed text of the named child.
func (e *Element) ChildText(name string) string {
	if c := e.Child(name); c != nil {
		return c.Text
	}
	return ""
}

// ParseError reports a malformed descriptor.
type ParseError struct {
	Source  string
	Line    int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	src := e.Source
	if src == "" {
		src = "descriptor"
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", src, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", src, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads an XML document into an element tree.
func Parse(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	var stack []*Element
	var root *Element

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var se *xml.SyntaxError
			if errors.As(err, &se) {
				return nil, &ParseError{Line: se.Line, Message: se.Msg, Err: err}
			}
			return nil, &ParseError{Message: err.Error(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Message: "multiple root elements"}
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			el := stack[len(stack)-1]
			el.Text = strings.TrimSpace(el.Text)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, &ParseError{Message: "empty document"}
	}
	return root, nil
}
