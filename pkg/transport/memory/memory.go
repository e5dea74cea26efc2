// Package memory is an in-process transport. Sent messages are kept in
// order; it backs the "memory" session transport and engine tests.
package memory

import (
	"context"
	"sync"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

// Sent is one delivered message.
type Sent struct {
	Destination transport.Destination
	Message     *transport.Message
}

// Conn is an in-memory transport.Connection.
type Conn struct {
	mu           sync.Mutex
	connected    bool
	destinations map[string]transport.Destination
	sent         []Sent
	connects     int

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// SendErr, when set, is returned by Send for the FailAt-th send (1-based)
	// or every send when FailAt is 0.
	SendErr error
	FailAt  int
	// OnSend runs before each delivery.
	OnSend func(n int)
}

// New is a transport.Factory for memory sessions.
func New(def schema.SessionDef) (transport.Connection, error) {
	return NewConn(transport.Destinations(def.Destinations, "queue")), nil
}

// NewConn returns a disconnected connection exposing the given destinations.
func NewConn(dests map[string]transport.Destination) *Conn {
	return &Conn{destinations: dests}
}

// NewQueues is a shorthand for a connection with queue destinations.
func NewQueues(names ...string) *Conn {
	d := make(map[string]transport.Destination, len(names))
	for _, n := range names {
		d[n] = transport.Destination{Name: n, Kind: "queue"}
	}
	return NewConn(d)
}

// SetConnected marks the connection as already connected.
func (c *Conn) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.connected = true
	return nil
}

func (c *Conn) Destination(name string) (transport.Destination, bool) {
	d, ok := c.destinations[name]
	return d, ok
}

func (c *Conn) NewMessage(kind transport.MessageKind) (*transport.Message, error) {
	return transport.NewMessageOf(kind, transport.KindText, transport.KindBytes, transport.KindMap)
}

func (c *Conn) Send(ctx context.Context, dest transport.Destination, msg *transport.Message) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	n := len(c.sent) + 1
	onSend := c.OnSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(n)
	}
	if c.SendErr != nil && (c.FailAt == 0 || c.FailAt == n) {
		return c.SendErr
	}

	c.mu.Lock()
	c.sent = append(c.sent, Sent{Destination: dest, Message: msg})
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of the delivered messages.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Connects reports how many times Connect was called.
func (c *Conn) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}
