// Package signal is the WebSocket transport adapter: one duplex
// connection per room join, decoded frames handed to the app router.
package signal

import (
	"errors"
	"sync"

	"github.com/dkeye/Talk/internal/core"
	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("connection closed")

// wsSignalConn implements core.SignalConnection over gorilla/websocket.
// The write pump owns the socket; TrySend only queues.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSSignalConn(conn *websocket.Conn, buffer int) *wsSignalConn {
	return &wsSignalConn{
		conn: conn,
		send: make(chan core.Frame, buffer),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
