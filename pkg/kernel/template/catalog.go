package template

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

// ErrNotFound is returned when a path or folder does not exist in a catalog.
var ErrNotFound = errors.New("template not found")

const fileExt = ".yaml"

// Catalog resolves templates by path or by folder. An existing folder with
// no templates yields an empty slice and no error.
type Catalog interface {
	Lookup(path string) (*Template, error)
	LookupFolder(folder string) ([]*Template, error)
	Names() ([]string, error)
}

// DirCatalog reads template/v0 files from a directory tree. A file at
// <root>/orders/new.yaml has path "/orders/new". Files are read on lookup.
type DirCatalog struct {
	Root string
}

// NewDirCatalog returns a catalog rooted at dir.
func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{Root: dir}
}

// fsPath maps a template reference to a path below Root. References that
// resolve outside Root are not found.
func (c *DirCatalog) fsPath(p string) (string, error) {
	rel := strings.Trim(schema.NormalizeTemplatePath(p), "/")
	full := filepath.Join(c.Root, filepath.FromSlash(rel))
	r, err := filepath.Rel(c.Root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: outside template root: %w", p, ErrNotFound)
	}
	return full, nil
}

// Lookup loads the template at path.
func (c *DirCatalog) Lookup(path string) (*Template, error) {
	base, err := c.fsPath(path)
	if err != nil {
		return nil, err
	}
	file := base + fileExt
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("stat template %s: %w", path, err)
	}
	return loadFile(file, schema.NormalizeTemplatePath(path))
}

// LookupFolder loads every template below folder, recursively, sorted by path.
func (c *DirCatalog) LookupFolder(folder string) ([]*Template, error) {
	dir, err := c.fsPath(folder)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", folder, ErrNotFound)
		}
		return nil, fmt.Errorf("stat folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a folder: %w", folder, ErrNotFound)
	}
	names, err := c.walk(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, 0, len(names))
	for _, n := range names {
		base, err := c.fsPath(n)
		if err != nil {
			return nil, err
		}
		t, err := loadFile(base+fileExt, n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Names lists every template path in the catalog.
func (c *DirCatalog) Names() ([]string, error) {
	return c.walk(c.Root)
}

func (c *DirCatalog) walk(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			return nil
		}
		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		names = append(names, "/"+strings.TrimSuffix(filepath.ToSlash(rel), fileExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func loadFile(file, name string) (*Template, error) {
	tf, err := schema.LoadTemplateFile(file)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return FromFile(name, tf)
}

// FromFile converts a decoded template document into a Template.
func FromFile(name string, tf *schema.TemplateFile) (*Template, error) {
	t := &Template{
		Name:       name,
		Type:       Type(tf.Type),
		Entries:    tf.Entries,
		Properties: tf.Properties,
	}
	switch t.Type {
	case "", TypeText:
		t.Type = TypeText
		t.Text = tf.Payload
	case TypeBytes:
		b, err := base64.StdEncoding.DecodeString(tf.Payload)
		if err != nil {
			return nil, fmt.Errorf("template %s: bytes payload: %w", name, err)
		}
		t.Bytes = b
	case TypeMap:
		if t.Entries == nil {
			t.Entries = map[string]string{}
		}
	default:
		return nil, fmt.Errorf("template %s: unknown type %q", name, tf.Type)
	}
	return t, nil
}

// MemCatalog is an in-memory Catalog keyed by normalized path.
type MemCatalog map[string]*Template

// Add stores t under its normalized name.
func (m MemCatalog) Add(t *Template) {
	t.Name = schema.NormalizeTemplatePath(t.Name)
	m[t.Name] = t
}

func (m MemCatalog) Lookup(path string) (*Template, error) {
	t, ok := m[schema.NormalizeTemplatePath(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return t, nil
}

func (m MemCatalog) LookupFolder(folder string) ([]*Template, error) {
	prefix := schema.NormalizeTemplatePath(folder) + "/"
	var out []*Template
	found := false
	for name, t := range m {
		if strings.HasPrefix(name, prefix) {
			found = true
			out = append(out, t)
		}
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", folder, ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m MemCatalog) Names() ([]string, error) {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
