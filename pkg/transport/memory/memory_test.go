package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

func TestConn_SendRequiresConnect(t *testing.T) {
	c := NewQueues("Q1")
	d, ok := c.Destination("Q1")
	if !ok {
		t.Fatal("Q1 not found")
	}
	msg, _ := c.NewMessage(transport.KindText)
	if err := c.Send(context.Background(), d, msg); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(context.Background(), d, msg); err != nil {
		t.Fatal(err)
	}
	if len(c.Sent()) != 1 || c.Connects() != 1 {
		t.Errorf("sent = %d, connects = %d", len(c.Sent()), c.Connects())
	}
}

func TestConn_FailAt(t *testing.T) {
	c := NewQueues("Q")
	c.SetConnected(true)
	c.SendErr = errors.New("broker down")
	c.FailAt = 2
	d, _ := c.Destination("Q")
	msg := &transport.Message{Kind: transport.KindText}
	if err := c.Send(context.Background(), d, msg); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send(context.Background(), d, msg); err == nil {
		t.Fatal("second send should fail")
	}
}

func TestRegistry_OneConnectionPerSession(t *testing.T) {
	r, err := transport.NewRegistry([]schema.SessionDef{
		{Name: "S1", Transport: "memory", Destinations: []schema.DestinationDef{{Name: "Q1"}}},
	}, map[string]transport.Factory{"memory": New})
	if err != nil {
		t.Fatal(err)
	}
	s, ok := r.Session("S1")
	if !ok {
		t.Fatal("S1 not found")
	}
	a, _ := s.ExecutionConnection()
	b, _ := s.ExecutionConnection()
	if a != b {
		t.Error("ExecutionConnection returned distinct connections")
	}
	d, ok := a.Destination("Q1")
	if !ok || d.Kind != "queue" {
		t.Errorf("destination = %+v, %v", d, ok)
	}
}

func TestRegistry_Errors(t *testing.T) {
	f := map[string]transport.Factory{"memory": New}
	if _, err := transport.NewRegistry([]schema.SessionDef{{Name: "a", Transport: "amqp"}}, f); err == nil {
		t.Error("expected unknown transport error")
	}
	if _, err := transport.NewRegistry([]schema.SessionDef{{Name: "a", Transport: "memory"}, {Name: "a", Transport: "memory"}}, f); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestNewMessage_Unsupported(t *testing.T) {
	if _, err := transport.NewMessageOf("xml", transport.KindText); !errors.Is(err, transport.ErrUnsupportedMessage) {
		t.Errorf("err = %v", err)
	}
}

type closingConn struct {
	*Conn
	closed int
}

func (c *closingConn) Close() error {
	c.closed++
	return errors.New("already closed")
}

func TestRegistry_Close(t *testing.T) {
	r := &transport.Registry{}
	cc := &closingConn{Conn: NewQueues("Q1")}
	r.Add("A", cc)
	r.Add("B", NewQueues("Q2"))

	err := r.Close()
	if cc.closed != 1 {
		t.Errorf("closed = %d, want 1", cc.closed)
	}
	if err == nil || !strings.Contains(err.Error(), `session "A"`) {
		t.Errorf("err = %v", err)
	}
}
