package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

const schemaBaseURL = "https://github.com/ormasoftchile/msgrun/schemas/"

// Document names accepted by GenerateJSONSchema.
var Documents = []string{"script", "template", "sessions", "variables"}

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document for one
// of the msgrun document kinds.
func GenerateJSONSchema(doc string) ([]byte, error) {
	var (
		v     any
		title string
	)
	switch doc {
	case "script":
		v, title = &Script{}, "Message Script "+APIVersionScript
	case "template":
		v, title = &TemplateFile{}, "Message Template "+APIVersionTemplate
	case "sessions":
		v, title = &SessionsFile{}, "Sessions "+APIVersionSessions
	case "variables":
		v, title = &VariablesFile{}, "Variables "+APIVersionVariables
	default:
		return nil, fmt.Errorf("unknown document %q (want one of %v)", doc, Documents)
	}

	r := new(jsonschema.Reflector)
	s := r.Reflect(v)
	s.ID = jsonschema.ID(schemaBaseURL + doc + "-v0.json")
	s.Title = title
	s.Description = "Schema for " + doc + " YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", doc, err)
	}
	return data, nil
}
