package engine

import (
	"fmt"

	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
)

// resolveGlobals produces the run's global variable values.
//
// Resolution order per variable:
//  1. overrides (CLI --var, MCP arguments)
//  2. the script's constant_value
//  3. one generated value from the catalog definition
//
// Every declared variable must exist in the catalog, whatever its source.
func resolveGlobals(
	decls []schema.GlobalVariable,
	cat variables.Catalog,
	r *variables.Resolver,
	overrides map[string]string,
) (map[string]string, *ValidationFailure) {
	out := make(map[string]string, len(decls))
	var known []string
	if cat != nil {
		known = cat.Names()
	}
	for _, gv := range decls {
		var (
			def *schema.VariableDef
			ok  bool
		)
		if cat != nil {
			def, ok = cat.Lookup(gv.Name)
		}
		if !ok {
			return nil, &ValidationFailure{
				Action:  result.ActionVariable,
				Kind:    result.VariableNotFound,
				Name:    gv.Name,
				Message: notFoundMessage("variable", gv.Name, known),
			}
		}
		if v, ok := overrides[gv.Name]; ok {
			out[gv.Name] = v
			continue
		}
		if gv.ConstantValue != nil {
			out[gv.Name] = *gv.ConstantValue
			continue
		}
		v, err := r.Generate(def)
		if err != nil {
			return nil, &ValidationFailure{
				Action:  result.ActionVariable,
				Kind:    result.ValidationException,
				Name:    gv.Name,
				Message: fmt.Sprintf("generating variable %q", gv.Name),
				Err:     err,
			}
		}
		out[gv.Name] = v
	}
	return out, nil
}
