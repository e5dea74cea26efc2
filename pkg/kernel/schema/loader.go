package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a script/v0 YAML.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a script/v0 document from a reader.
func Load(r io.Reader) (*Script, error) {
	var sc Script
	if err := decodeStrict(r, &sc); err != nil {
		return nil, err
	}
	normalizeSteps(&sc)
	for i, st := range sc.Steps {
		if !st.Kind.Valid() {
			return nil, fmt.Errorf("structural decode: steps[%d]: unknown kind %q (want %s or %s)", i, st.Kind, StepRegular, StepPause)
		}
	}
	return &sc, nil
}

// normalizeSteps fills defaults: missing kind means regular, template
// references are rooted at "/".
func normalizeSteps(sc *Script) {
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if st.Kind == "" {
			st.Kind = StepRegular
		}
		if st.Kind == StepRegular && st.Template != "" {
			st.Template = NormalizeTemplatePath(st.Template)
		}
	}
}

// NormalizeTemplatePath returns p with a single leading slash and no
// trailing slash or .yaml extension.
func NormalizeTemplatePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimSuffix(p, ".yaml")
	p = strings.Trim(p, "/")
	return "/" + p
}

// LoadTemplateFile reads and structurally decodes a template/v0 YAML.
func LoadTemplateFile(path string) (*TemplateFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	var tf TemplateFile
	if err := decodeStrict(f, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// LoadSessionsFile reads and structurally decodes a sessions/v0 YAML.
func LoadSessionsFile(path string) (*SessionsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	defer f.Close()
	var sf SessionsFile
	if err := decodeStrict(f, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

// LoadVariablesFile reads and structurally decodes a variables/v0 YAML.
func LoadVariablesFile(path string) (*VariablesFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variables: %w", err)
	}
	defer f.Close()
	return LoadVariables(f)
}

// LoadVariables reads a variables/v0 document from a reader.
func LoadVariables(r io.Reader) (*VariablesFile, error) {
	var vf VariablesFile
	if err := decodeStrict(r, &vf); err != nil {
		return nil, err
	}
	return &vf, nil
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("structural decode: %w", err)
	}
	return nil
}
