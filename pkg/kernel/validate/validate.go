// Package validate implements the static script check: structural →
// semantic → domain. It runs without connecting anywhere and is what
// `msgrun validate` and the MCP validate tool report.
package validate

import (
	"fmt"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "error",
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "warning",
	}
}

// Catalogs are the optional references the domain phase checks against.
// A nil field skips the checks that need it.
type Catalogs struct {
	Templates template.Catalog
	Sessions  []schema.SessionDef
	Variables variables.Catalog
}

// ValidateFile runs the full pipeline on a script file.
func ValidateFile(path string, cat Catalogs) (*schema.Script, []*ValidationError) {
	// Phase 1: Structural (strict YAML decode)
	sc, err := schema.LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return sc, ValidateScript(sc, cat)
}

// ValidateScript runs phases 2+3 on an already-loaded script.
func ValidateScript(sc *schema.Script, cat Catalogs) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(sc)...)

	// If we have semantic errors, don't proceed to domain
	if HasErrors(errs) {
		return errs
	}
	errs = append(errs, validateDomain(sc, cat)...)
	return errs
}

// HasErrors reports whether errs contains at least one error-severity entry.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
