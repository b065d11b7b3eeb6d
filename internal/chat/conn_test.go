package chat

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestConn_SendQueueBounds(t *testing.T) {
	c := newConn(nil, 1, 2, time.Second, zap.NewNop())

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c := newConn(nil, 1, 2, time.Second, zap.NewNop())
	c.Close()
	c.Close()

	if err := c.Send([]byte("a")); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if c.ID() == "" {
		t.Fatalf("expected connection id")
	}
}
