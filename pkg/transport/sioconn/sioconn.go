// Package sioconn emits messages as socket.io events. The destination name
// is the event name.
package sioconn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

const defaultConnectTimeout = 15 * time.Second

// Conn is a socket.io transport.Connection.
type Conn struct {
	baseURL      string
	namespace    string
	timeout      time.Duration
	destinations map[string]transport.Destination

	mu sync.Mutex
	io *socket.Socket
}

// New is a transport.Factory for socketio sessions. The URL path selects
// the namespace, e.g. http://host:3000/orders.
func New(def schema.SessionDef) (transport.Connection, error) {
	u, err := url.Parse(def.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("socketio session %q: invalid url %q", def.Name, def.URL)
	}
	timeout := defaultConnectTimeout
	if def.ConnectTimeout != "" {
		d, err := time.ParseDuration(def.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("socketio session %q: connect_timeout: %w", def.Name, err)
		}
		timeout = d
	}
	ns := u.Path
	if ns == "" {
		ns = "/"
	}
	return &Conn{
		baseURL:      fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		namespace:    ns,
		timeout:      timeout,
		destinations: transport.Destinations(def.Destinations, "event"),
	}, nil
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.io != nil && c.io.Connected()
}

func (c *Conn) Connect(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "url", c.baseURL, "namespace", c.namespace)

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	manager := socket.NewManager(c.baseURL, opts)
	io := manager.Socket(c.namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("connect_error: %v", errs[0])
		}
		connectChan <- err
	})

	logger.Debug("connecting")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return fmt.Errorf("socket.io connect: %w", ctx.Err())
	case <-time.After(c.timeout):
		io.Disconnect()
		return fmt.Errorf("timed out after %v waiting for socket.io connection", c.timeout)
	}

	c.mu.Lock()
	c.io = io
	c.mu.Unlock()
	logger.Debug("connected", "sid", io.Id())
	return nil
}

func (c *Conn) Destination(name string) (transport.Destination, bool) {
	d, ok := c.destinations[name]
	return d, ok
}

// NewMessage supports text and map payloads; socket.io has no raw byte frames here.
func (c *Conn) NewMessage(kind transport.MessageKind) (*transport.Message, error) {
	return transport.NewMessageOf(kind, transport.KindText, transport.KindMap)
}

func (c *Conn) Send(ctx context.Context, dest transport.Destination, msg *transport.Message) error {
	c.mu.Lock()
	io := c.io
	c.mu.Unlock()
	if io == nil || !io.Connected() {
		return transport.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	io.Emit(dest.Name, payload(msg))
	return nil
}

func payload(msg *transport.Message) any {
	body := map[string]any{"kind": string(msg.Kind)}
	switch msg.Kind {
	case transport.KindMap:
		body["map"] = msg.Map
	default:
		body["text"] = msg.Text
	}
	if len(msg.Properties) > 0 {
		body["properties"] = msg.Properties
	}
	return body
}

// Close disconnects the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.io != nil {
		c.io.Disconnect()
		c.io = nil
	}
	return nil
}
