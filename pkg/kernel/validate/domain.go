package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
)

// validateDomain runs script/v0 domain-level validation rules.
func validateDomain(sc *schema.Script, cat Catalogs) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be script/v0
	if sc.APIVersion != schema.APIVersionScript {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", schema.APIVersionScript, sc.APIVersion))
	}

	// D2: step shape
	for i := range sc.Steps {
		errs = append(errs, validateStep(&sc.Steps[i], stepPath(i))...)
	}

	// D3: global variable declarations
	errs = append(errs, validateGlobals(sc, cat.Variables)...)

	// D4: data file declarations and step bindings
	errs = append(errs, validateDataFiles(sc)...)

	// D5: catalog references
	if cat.Templates != nil {
		errs = append(errs, validateTemplates(sc, cat)...)
	}
	if cat.Sessions != nil {
		errs = append(errs, validateSessions(sc, cat.Sessions)...)
	}

	return errs
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}

func validateStep(st *schema.Step, path string) []*ValidationError {
	var errs []*ValidationError
	switch st.Kind {
	case schema.StepRegular:
		if st.Session == "" {
			errs = append(errs, errorf("domain", path+".session", "regular step requires 'session' field"))
		}
		if st.Destination == "" {
			errs = append(errs, errorf("domain", path+".destination", "regular step requires 'destination' field"))
		}
		if st.Template == "" || st.Template == "/" {
			errs = append(errs, errorf("domain", path+".template", "regular step requires 'template' field"))
		}
		if st.Iterations < 0 {
			errs = append(errs, errorf("domain", path+".iterations", "iterations must not be negative, got %d", st.Iterations))
		}
		if st.PauseSecsAfter < 0 {
			errs = append(errs, errorf("domain", path+".pause_secs_after", "pause_secs_after must not be negative, got %d", st.PauseSecsAfter))
		}
		if st.Delay != 0 {
			errs = append(errs, warningf("domain", path+".delay", "'delay' is ignored on regular steps"))
		}
	case schema.StepPause:
		if st.Delay < 0 {
			errs = append(errs, errorf("domain", path+".delay", "delay must not be negative, got %d", st.Delay))
		}
		if st.Session != "" || st.Destination != "" || st.Template != "" {
			errs = append(errs, warningf("domain", path, "session, destination and template are ignored on pause steps"))
		}
	default:
		errs = append(errs, errorf("domain", path+".kind", "unknown step kind %q: must be regular or pause", st.Kind))
	}
	return errs
}

func validateGlobals(sc *schema.Script, vars variables.Catalog) []*ValidationError {
	var errs []*ValidationError
	seen := map[string]int{}
	for i, g := range sc.GlobalVariables {
		path := fmt.Sprintf("global_variables[%d]", i)
		if prev, ok := seen[g.Name]; ok {
			errs = append(errs, errorf("domain", path+".name", "duplicate global variable %q (first at global_variables[%d])", g.Name, prev))
			continue
		}
		seen[g.Name] = i
		if vars == nil {
			continue
		}
		if _, ok := vars.Lookup(g.Name); !ok {
			errs = append(errs, errorf("domain", path+".name", "variable %q is not defined in the variables catalog", g.Name))
		}
	}
	return errs
}

func validateDataFiles(sc *schema.Script) []*ValidationError {
	var errs []*ValidationError
	prefixes := map[string]int{}
	for i, df := range sc.DataFiles {
		path := fmt.Sprintf("data_files[%d]", i)
		if strings.TrimSpace(df.FileName) == "" {
			errs = append(errs, errorf("domain", path+".file_name", "data file requires 'file_name'"))
		}
		if strings.TrimSpace(df.VariablePrefix) == "" {
			errs = append(errs, errorf("domain", path+".variable_prefix", "data file requires 'variable_prefix'"))
		} else if prev, ok := prefixes[df.VariablePrefix]; ok {
			errs = append(errs, errorf("domain", path+".variable_prefix", "duplicate variable prefix %q (first at data_files[%d])", df.VariablePrefix, prev))
		} else {
			prefixes[df.VariablePrefix] = i
		}
		if len(df.FieldNames()) == 0 {
			errs = append(errs, errorf("domain", path+".variable_names", "data file declares no variable names"))
		}
		if df.Charset != "" && !isUTF8(df.Charset) {
			errs = append(errs, errorf("domain", path+".charset", "unsupported charset %q: only UTF-8 data files are read", df.Charset))
		}
	}

	// A step bound to an undeclared prefix fails at run time with
	// DATAFILE_PREFIX_NOT_FOUND; statically it is only a warning.
	for i, st := range sc.Steps {
		if st.Kind != schema.StepRegular || st.VariablePrefix == "" {
			continue
		}
		if _, ok := prefixes[st.VariablePrefix]; !ok {
			errs = append(errs, warningf("domain", stepPath(i)+".variable_prefix", "no data file declares prefix %q", st.VariablePrefix))
		}
	}
	return errs
}

func isUTF8(charset string) bool {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "")) {
	case "utf8":
		return true
	}
	return false
}

// validateTemplates checks that every step template exists and warns about
// placeholders nothing will fill.
func validateTemplates(sc *schema.Script, cat Catalogs) []*ValidationError {
	var errs []*ValidationError
	for i, st := range sc.Steps {
		if st.Kind != schema.StepRegular || st.Template == "" {
			continue
		}
		path := stepPath(i) + ".template"
		var tpls []*template.Template
		var err error
		if st.Folder {
			tpls, err = cat.Templates.LookupFolder(st.Template)
			if err == nil && len(tpls) == 0 {
				err = template.ErrNotFound
			}
		} else {
			var t *template.Template
			if t, err = cat.Templates.Lookup(st.Template); err == nil {
				tpls = []*template.Template{t}
			}
		}
		switch {
		case errors.Is(err, template.ErrNotFound):
			errs = append(errs, errorf("domain", path, "template %q not found", st.Template))
			continue
		case err != nil:
			errs = append(errs, errorf("domain", path, "load template %q: %v", st.Template, err))
			continue
		}
		for _, t := range tpls {
			for _, name := range unresolved(sc, &st, t, cat.Variables) {
				errs = append(errs, warningf("domain", path, "template %s references ${%s}, which no data file, global or catalog variable provides", t.Name, name))
			}
		}
	}
	return errs
}

func unresolved(sc *schema.Script, st *schema.Step, t *template.Template, vars variables.Catalog) []string {
	known := map[string]bool{}
	for _, g := range sc.GlobalVariables {
		known[g.Name] = true
	}
	if df, ok := sc.DataFile(st.VariablePrefix); ok && st.VariablePrefix != "" {
		for _, f := range df.FieldNames() {
			known[f] = true
		}
	}
	var out []string
	seen := map[string]bool{}
	for _, s := range t.Strings() {
		for _, name := range variables.Names(s) {
			if known[name] || seen[name] {
				continue
			}
			if vars != nil {
				if _, ok := vars.Lookup(name); ok {
					continue
				}
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func validateSessions(sc *schema.Script, defs []schema.SessionDef) []*ValidationError {
	byName := make(map[string]*schema.SessionDef, len(defs))
	for i := range defs {
		byName[defs[i].Name] = &defs[i]
	}
	var errs []*ValidationError
	for i, st := range sc.Steps {
		if st.Kind != schema.StepRegular || st.Session == "" {
			continue
		}
		def, ok := byName[st.Session]
		if !ok {
			errs = append(errs, errorf("domain", stepPath(i)+".session", "session %q is not defined", st.Session))
			continue
		}
		// Sessions without declared destinations accept any name.
		if len(def.Destinations) == 0 || st.Destination == "" {
			continue
		}
		found := false
		for _, d := range def.Destinations {
			if d.Name == st.Destination {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, errorf("domain", stepPath(i)+".destination", "destination %q is not declared by session %q", st.Destination, st.Session))
		}
	}
	return errs
}
