package schema

// API version constants for the catalog documents.
const (
	APIVersionTemplate  = "template/v0"
	APIVersionSessions  = "sessions/v0"
	APIVersionVariables = "variables/v0"
)

// ---------------------------------------------------------------------------
// Template
// ---------------------------------------------------------------------------

// TemplateFile is one template/v0 document. Its catalog path is derived from
// its location under the templates directory, not from its contents.
type TemplateFile struct {
	APIVersion  string            `yaml:"apiVersion" json:"apiVersion"`
	Type        string            `yaml:"type"       json:"type" jsonschema:"enum=text,enum=bytes,enum=map"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Payload     string            `yaml:"payload,omitempty"     json:"payload,omitempty"` // base64 when type is bytes
	Entries     map[string]string `yaml:"entries,omitempty"     json:"entries,omitempty"` // type map
	Properties  map[string]string `yaml:"properties,omitempty"  json:"properties,omitempty"`
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// SessionsFile is the sessions/v0 document listing broker sessions.
type SessionsFile struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Sessions   []SessionDef `yaml:"sessions"   json:"sessions"`
}

// SessionDef describes one named session and the destinations it exposes.
type SessionDef struct {
	Name           string            `yaml:"name"      json:"name"`
	Transport      string            `yaml:"transport" json:"transport" jsonschema:"enum=memory,enum=websocket,enum=socketio"`
	URL            string            `yaml:"url,omitempty"             json:"url,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"         json:"headers,omitempty"`
	ConnectTimeout string            `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"` // Go duration
	Destinations   []DestinationDef  `yaml:"destinations"              json:"destinations"`
}

// DestinationDef is a queue, topic or event name on a session.
type DestinationDef struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=queue,enum=topic,enum=event"`
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// VariablesFile is the variables/v0 document defining generated variables.
type VariablesFile struct {
	APIVersion string        `yaml:"apiVersion" json:"apiVersion"`
	Variables  []VariableDef `yaml:"variables"  json:"variables"`
}

// VariableDef defines how a variable value is produced. Fields are
// populated based on Kind.
type VariableDef struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind" jsonschema:"enum=string,enum=int,enum=date,enum=list,enum=sequence,enum=uuid,enum=expr"`

	// string
	Length  int    `yaml:"length,omitempty"  json:"length,omitempty"`
	Charset string `yaml:"charset,omitempty" json:"charset,omitempty" jsonschema:"enum=alpha,enum=numeric,enum=alphanumeric,enum=hex"`

	// int and sequence
	Min  int64 `yaml:"min,omitempty"  json:"min,omitempty"`
	Max  int64 `yaml:"max,omitempty"  json:"max,omitempty"`
	Step int64 `yaml:"step,omitempty" json:"step,omitempty"`

	// date
	Layout string `yaml:"layout,omitempty" json:"layout,omitempty"` // Go time layout
	Offset string `yaml:"offset,omitempty" json:"offset,omitempty"` // Go duration added to now
	Spread string `yaml:"spread,omitempty" json:"spread,omitempty"` // random +/- window

	// list
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`

	// expr
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`

	// Value is a fixed value; when set it wins over generation.
	Value *string `yaml:"value,omitempty" json:"value,omitempty"`
}
