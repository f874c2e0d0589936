// Package ws is the websocket transport: one hub, many connections, a JSON
// envelope protocol in both directions.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Socket is an indirection over *websocket.Conn to ease testing.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one client connection with a buffered outbound queue. A slow
// client gets ErrBackpressure instead of blocking the emitter.
type Conn struct {
	handle domain.ConnHandle
	sock   Socket
	send   chan []byte

	mu     sync.RWMutex
	closed bool
}

func newConn(sock Socket) *Conn {
	return &Conn{
		handle: domain.ConnHandle(uuid.NewString()),
		sock:   sock,
		send:   make(chan []byte, 256),
	}
}

func (c *Conn) Handle() domain.ConnHandle { return c.handle }

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.sock.Close()
	c.mu.Unlock()
}
