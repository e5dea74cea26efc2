// Package wsconn sends messages as JSON envelopes over a WebSocket.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

const defaultConnectTimeout = 15 * time.Second

// Envelope is the frame written for every message.
type Envelope struct {
	Destination transport.Destination `json:"destination"`
	Message     *transport.Message    `json:"message"`
}

// Conn is a WebSocket transport.Connection.
type Conn struct {
	url          string
	header       http.Header
	timeout      time.Duration
	destinations map[string]transport.Destination

	mu sync.Mutex
	ws *websocket.Conn
}

// New is a transport.Factory for websocket sessions.
func New(def schema.SessionDef) (transport.Connection, error) {
	if def.URL == "" {
		return nil, fmt.Errorf("websocket session %q: url is required", def.Name)
	}
	timeout := defaultConnectTimeout
	if def.ConnectTimeout != "" {
		d, err := time.ParseDuration(def.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("websocket session %q: connect_timeout: %w", def.Name, err)
		}
		timeout = d
	}
	h := http.Header{}
	for k, v := range def.Headers {
		h.Set(k, v)
	}
	return &Conn{
		url:          def.URL,
		header:       h,
		timeout:      timeout,
		destinations: transport.Destinations(def.Destinations, "topic"),
	}, nil
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) Connect(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("transport", "websocket", "url", c.url)
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	logger.Debug("connected")
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
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return transport.ErrNotConnected
	}
	if err := wsjson.Write(ctx, ws, Envelope{Destination: dest, Message: msg}); err != nil {
		return fmt.Errorf("write to %s: %w", dest.Name, err)
	}
	return nil
}

// Close closes the underlying socket. Sessions own their connections; the
// engine never calls this.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.ws = nil
	return err
}
