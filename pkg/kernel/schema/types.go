// Package schema defines the script/v0 document and the catalog documents
// (templates, sessions, variables) that a script is resolved against.
package schema

import (
	"strconv"
	"strings"
)

// API version constant for script/v0.
const APIVersionScript = "script/v0"

// ---------------------------------------------------------------------------
// Script
// ---------------------------------------------------------------------------

// Script is the top-level script/v0 document. It is never mutated after
// loading; each run builds its own runtime state from it.
type Script struct {
	APIVersion      string           `yaml:"apiVersion"  json:"apiVersion"`
	Name            string           `yaml:"name"        json:"name"`
	Description     string           `yaml:"description,omitempty" json:"description,omitempty"`
	Steps           []Step           `yaml:"steps"       json:"steps"`
	GlobalVariables []GlobalVariable `yaml:"global_variables,omitempty" json:"global_variables,omitempty"`
	DataFiles       []DataFile       `yaml:"data_files,omitempty"       json:"data_files,omitempty"`
}

// DataFile returns the data file declared with the given variable prefix.
func (s *Script) DataFile(prefix string) (*DataFile, bool) {
	for i := range s.DataFiles {
		if s.DataFiles[i].VariablePrefix == prefix {
			return &s.DataFiles[i], true
		}
	}
	return nil, false
}

// Sessions returns the distinct session names used by regular steps,
// in order of first use.
func (s *Script) Sessions() []string {
	seen := make(map[string]bool)
	var names []string
	for _, st := range s.Steps {
		if st.Kind != StepRegular || seen[st.Session] {
			continue
		}
		seen[st.Session] = true
		names = append(names, st.Session)
	}
	return names
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// StepKind discriminates the two step shapes.
type StepKind string

const (
	StepRegular StepKind = "regular"
	StepPause   StepKind = "pause"
)

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	return k == StepRegular || k == StepPause
}

// Step is one unit of a script. Fields are populated based on Kind.
type Step struct {
	Kind StepKind `yaml:"kind" json:"kind" jsonschema:"enum=regular,enum=pause"`

	// Regular step
	Session        string `yaml:"session,omitempty"          json:"session,omitempty"`
	Destination    string `yaml:"destination,omitempty"      json:"destination,omitempty"`
	Template       string `yaml:"template,omitempty"         json:"template,omitempty"`
	Folder         bool   `yaml:"folder,omitempty"           json:"folder,omitempty"` // template names a folder
	Iterations     int    `yaml:"iterations,omitempty"       json:"iterations,omitempty"`
	PauseSecsAfter int    `yaml:"pause_secs_after,omitempty" json:"pause_secs_after,omitempty"`
	VariablePrefix string `yaml:"variable_prefix,omitempty"  json:"variable_prefix,omitempty"`

	// Pause step
	Delay int `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// IterationCount returns the number of iterations, defaulting to 1.
func (s *Step) IterationCount() int {
	if s.Iterations < 1 {
		return 1
	}
	return s.Iterations
}

// Describe renders a short human label for progress output.
func (s *Step) Describe() string {
	switch s.Kind {
	case StepPause:
		return "pause " + strconv.Itoa(s.Delay) + "s"
	default:
		ref := s.Template
		if s.Folder {
			ref += "/*"
		}
		return ref + " -> " + s.Session + ":" + s.Destination
	}
}

// ---------------------------------------------------------------------------
// Variables and data files
// ---------------------------------------------------------------------------

// GlobalVariable binds a catalog variable for the whole run. A nil
// ConstantValue means the value is generated once per run.
type GlobalVariable struct {
	Name          string  `yaml:"name" json:"name"`
	ConstantValue *string `yaml:"constant_value,omitempty" json:"constant_value,omitempty"`
}

// DefaultDelimiter is used when a data file does not declare one.
const DefaultDelimiter = ","

// DataFile is a delimited text file supplying one set of values per line.
type DataFile struct {
	FileName       string `yaml:"file_name"       json:"file_name"`
	Delimiter      string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	VariableNames  string `yaml:"variable_names"  json:"variable_names"` // comma-separated
	VariablePrefix string `yaml:"variable_prefix" json:"variable_prefix"`
	Charset        string `yaml:"charset,omitempty" json:"charset,omitempty"`
}

// Sep returns the field delimiter, defaulting to DefaultDelimiter.
func (d *DataFile) Sep() string {
	if d.Delimiter == "" {
		return DefaultDelimiter
	}
	return d.Delimiter
}

// FieldNames parses VariableNames into prefix-namespaced names
// ("prefix.name"), trimmed, in declaration order.
func (d *DataFile) FieldNames() []string {
	if strings.TrimSpace(d.VariableNames) == "" {
		return nil
	}
	parts := strings.Split(d.VariableNames, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, d.VariablePrefix+"."+strings.TrimSpace(p))
	}
	return out
}
