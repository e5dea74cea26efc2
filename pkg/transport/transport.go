// Package transport abstracts messaging sessions. A Session owns at most one
// execution Connection; connections expose named destinations and send
// messages built from templates.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

var (
	// ErrNotConnected is returned by Send before a successful Connect.
	ErrNotConnected = errors.New("connection is not connected")
	// ErrUnsupportedMessage is returned by NewMessage for kinds a transport cannot carry.
	ErrUnsupportedMessage = errors.New("unsupported message kind")
)

// MessageKind mirrors the template payload types.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindBytes MessageKind = "bytes"
	KindMap   MessageKind = "map"
)

// Message is a transport-level message ready to send.
type Message struct {
	Kind       MessageKind       `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Bytes      []byte            `json:"bytes,omitempty"`
	Map        map[string]string `json:"map,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Destination is a resolved queue, topic or event name.
type Destination struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// Connection is a live link to a broker endpoint.
type Connection interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Destination(name string) (Destination, bool)
	NewMessage(kind MessageKind) (*Message, error)
	Send(ctx context.Context, dest Destination, msg *Message) error
}

// Session is a named broker endpoint.
type Session interface {
	Name() string
	// ExecutionConnection returns the session's execution connection,
	// creating it on first use. Later calls return the same connection.
	ExecutionConnection() (Connection, error)
}

// Catalog looks up sessions by name.
type Catalog interface {
	Session(name string) (Session, bool)
	Names() []string
}

// Factory creates an unconnected Connection for a session definition.
type Factory func(def schema.SessionDef) (Connection, error)

// Registry is a Catalog built from a sessions document and a set of
// transport factories keyed by transport name.
type Registry struct {
	sessions map[string]*session
	order    []string
}

// NewRegistry builds a registry. Every session's transport must have a factory.
func NewRegistry(defs []schema.SessionDef, factories map[string]Factory) (*Registry, error) {
	r := &Registry{sessions: make(map[string]*session, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("session with empty name")
		}
		if _, dup := r.sessions[d.Name]; dup {
			return nil, fmt.Errorf("duplicate session %q", d.Name)
		}
		f, ok := factories[d.Transport]
		if !ok {
			return nil, fmt.Errorf("session %q: unknown transport %q", d.Name, d.Transport)
		}
		r.sessions[d.Name] = &session{def: d, factory: f}
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Add registers a session backed by an existing connection.
func (r *Registry) Add(name string, conn Connection) {
	if r.sessions == nil {
		r.sessions = make(map[string]*session)
	}
	if _, ok := r.sessions[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sessions[name] = &session{def: schema.SessionDef{Name: name}, conn: conn}
}

func (r *Registry) Session(name string) (Session, bool) {
	s, ok := r.sessions[name]
	if !ok {
		return nil, false
	}
	return s, true
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Close closes every connection created so far that implements io.Closer.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		s := r.sessions[name]
		s.mu.Lock()
		c, ok := s.conn.(io.Closer)
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type session struct {
	def     schema.SessionDef
	factory Factory

	mu   sync.Mutex
	conn Connection
}

func (s *session) Name() string { return s.def.Name }

func (s *session) ExecutionConnection() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := s.factory(s.def)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", s.def.Name, err)
	}
	s.conn = c
	return c, nil
}

// Destinations indexes destination definitions by name. Kind defaults to fallback.
func Destinations(defs []schema.DestinationDef, fallback string) map[string]Destination {
	out := make(map[string]Destination, len(defs))
	for _, d := range defs {
		kind := d.Kind
		if kind == "" {
			kind = fallback
		}
		out[d.Name] = Destination{Name: d.Name, Kind: kind}
	}
	return out
}

// NewMessageOf returns an empty message of kind if it is in supported.
func NewMessageOf(kind MessageKind, supported ...MessageKind) (*Message, error) {
	for _, k := range supported {
		if k == kind {
			return &Message{Kind: kind, Properties: map[string]string{}}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessage, kind)
}
