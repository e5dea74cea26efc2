// Package template holds message templates and the catalogs that resolve
// them by path or by folder.
package template

import (
	"maps"
	"slices"
)

// Type tags the payload shape of a template.
type Type string

const (
	TypeText  Type = "text"
	TypeBytes Type = "bytes"
	TypeMap   Type = "map"
)

// Template is a message definition. Templates handed out by a catalog are
// shared; callers mutate only clones.
type Template struct {
	Name       string // catalog path, e.g. "/orders/new"
	Type       Type
	Text       string
	Bytes      []byte
	Entries    map[string]string
	Properties map[string]string
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	c := *t
	c.Bytes = slices.Clone(t.Bytes)
	c.Entries = maps.Clone(t.Entries)
	c.Properties = maps.Clone(t.Properties)
	return &c
}

// Rewrite replaces every substitutable string of t (text payload, map
// entries, properties) with fn's result. Bytes payloads are left as is.
func (t *Template) Rewrite(fn func(string) string) {
	if t.Type != TypeBytes {
		t.Text = fn(t.Text)
	}
	for _, m := range []map[string]string{t.Entries, t.Properties} {
		for k, v := range m {
			m[k] = fn(v)
		}
	}
}

// Body returns a printable rendition of the payload.
func (t *Template) Body() string {
	switch t.Type {
	case TypeBytes:
		return string(t.Bytes)
	case TypeMap:
		keys := slices.Sorted(maps.Keys(t.Entries))
		var out string
		for i, k := range keys {
			if i > 0 {
				out += ", "
			}
			out += k + "=" + t.Entries[k]
		}
		return "{" + out + "}"
	default:
		return t.Text
	}
}

// Strings returns every substitutable string of t.
func (t *Template) Strings() []string {
	out := make([]string, 0, 1+len(t.Entries)+len(t.Properties))
	if t.Type != TypeBytes {
		out = append(out, t.Text)
	}
	for _, k := range slices.Sorted(maps.Keys(t.Entries)) {
		out = append(out, t.Entries[k])
	}
	for _, k := range slices.Sorted(maps.Keys(t.Properties)) {
		out = append(out, t.Properties[k])
	}
	return out
}
