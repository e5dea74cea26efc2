// Package recorder captures every message a run actually delivers, with
// secret values redacted, and saves the capture as YAML.
package recorder

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

// APIVersion identifies capture files.
const APIVersion = "capture/v0"

// CapturedMessage records a single delivered message.
type CapturedMessage struct {
	Session     string            `yaml:"session"`
	Destination string            `yaml:"destination"`
	Kind        string            `yaml:"kind"`
	Text        string            `yaml:"text,omitempty"`
	Bytes       string            `yaml:"bytes,omitempty"` // base64
	Entries     map[string]string `yaml:"entries,omitempty"`
	Properties  map[string]string `yaml:"properties,omitempty"`
}

// Capture is the saved document.
type Capture struct {
	APIVersion string            `yaml:"apiVersion"`
	RunID      string            `yaml:"run_id,omitempty"`
	Messages   []CapturedMessage `yaml:"messages"`
}

// Recorder wraps transport connections and captures every successful send.
type Recorder struct {
	mu       sync.Mutex
	messages []CapturedMessage
	secrets  []string // env var names whose values should be redacted
	patterns []*regexp.Regexp
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{}
}

// SetSecrets configures secret env var names whose values are redacted in captured output.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// AddPattern redacts every match of a regular expression in captured output.
func (r *Recorder) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("redaction pattern %q: %w", pattern, err)
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Factories wraps every factory so the connections it creates are recorded.
func (r *Recorder) Factories(in map[string]transport.Factory) map[string]transport.Factory {
	out := make(map[string]transport.Factory, len(in))
	for name, f := range in {
		out[name] = func(def schema.SessionDef) (transport.Connection, error) {
			conn, err := f(def)
			if err != nil {
				return nil, err
			}
			return r.Wrap(def.Name, conn), nil
		}
	}
	return out
}

// Wrap returns conn with sends recorded under the given session name.
func (r *Recorder) Wrap(session string, conn transport.Connection) transport.Connection {
	return &recordingConn{Connection: conn, session: session, rec: r}
}

// Messages returns a copy of the captured messages.
func (r *Recorder) Messages() []CapturedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CapturedMessage(nil), r.messages...)
}

// Save writes the capture to path.
func (r *Recorder) Save(path, runID string) error {
	data, err := yaml.Marshal(Capture{APIVersion: APIVersion, RunID: runID, Messages: r.Messages()})
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return nil
}

func (r *Recorder) record(session string, dest transport.Destination, msg *transport.Message) {
	captured := CapturedMessage{
		Session:     session,
		Destination: dest.Name,
		Kind:        string(msg.Kind),
		Text:        r.redact(msg.Text),
		Entries:     r.redactMap(msg.Map),
		Properties:  r.redactMap(msg.Properties),
	}
	if len(msg.Bytes) > 0 {
		captured.Bytes = base64.StdEncoding.EncodeToString(msg.Bytes)
	}
	r.mu.Lock()
	r.messages = append(r.messages, captured)
	r.mu.Unlock()
}

// redact replaces secret values and pattern matches with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "<REDACTED>")
	}
	return s
}

// redactMap redacts secret values in a map.
func (r *Recorder) redactMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = r.redact(v)
	}
	return out
}

type recordingConn struct {
	transport.Connection
	session string
	rec     *Recorder
}

// Send delegates to the wrapped connection and records the message on success.
func (c *recordingConn) Send(ctx context.Context, dest transport.Destination, msg *transport.Message) error {
	if err := c.Connection.Send(ctx, dest, msg); err != nil {
		return err
	}
	c.rec.record(c.session, dest, msg)
	return nil
}

func (c *recordingConn) Close() error {
	if cl, ok := c.Connection.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
