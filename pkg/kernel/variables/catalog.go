package variables

import (
	"fmt"
	"sort"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

// Catalog looks up variable definitions by name.
type Catalog interface {
	Lookup(name string) (*schema.VariableDef, bool)
	Names() []string
}

// MapCatalog is an in-memory Catalog.
type MapCatalog map[string]schema.VariableDef

// NewCatalog builds a MapCatalog from definitions. Duplicate names are rejected.
func NewCatalog(defs []schema.VariableDef) (MapCatalog, error) {
	c := make(MapCatalog, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("variable with empty name")
		}
		if _, dup := c[d.Name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", d.Name)
		}
		c[d.Name] = d
	}
	return c, nil
}

// LoadCatalog reads a variables/v0 file into a MapCatalog.
func LoadCatalog(path string) (MapCatalog, error) {
	vf, err := schema.LoadVariablesFile(path)
	if err != nil {
		return nil, err
	}
	c, err := NewCatalog(vf.Variables)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c MapCatalog) Lookup(name string) (*schema.VariableDef, bool) {
	d, ok := c[name]
	if !ok {
		return nil, false
	}
	return &d, true
}

func (c MapCatalog) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
