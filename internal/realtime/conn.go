package realtime

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live client connection as the registry sees it: an owner and a bounded
// outbound queue. The websocket writer drains Send until Done is closed.
//
// The send channel is never closed, so Enqueue can race with Close safely.
type Conn struct {
	id     string
	userID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closer    io.Closer
}

// NewConn creates a connection with an outbound buffer of the given size. closer, if non-nil,
// is closed once when the connection is closed (the underlying websocket).
func NewConn(userID string, buffer int, closer io.Closer) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		closer: closer,
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Send() <-chan []byte   { return c.send }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Enqueue queues data without blocking. It returns false when the connection is closed or
// its queue is full.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.closer != nil {
			_ = c.closer.Close()
		}
	})
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
