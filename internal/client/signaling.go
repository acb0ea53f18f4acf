// Package client is the in-room counterpart of the signal server: it
// owns local capture, one peer link per remote participant, and the
// offer/answer/ICE exchange over the signaling connection.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Talk/internal/signal"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SignalClient is the transport the orchestrator drives. Incoming is
// closed when the connection dies.
type SignalClient interface {
	Send(signal.Message) error
	Incoming() <-chan signal.Message
	Close()
}

// WSClient connects to the server's signaling endpoint for one room.
type WSClient struct {
	conn     *websocket.Conn
	incoming chan signal.Message
	outgoing chan signal.Message
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// DialRoom opens the signaling connection, authenticating with the
// bearer token.
func DialRoom(serverURL, roomID, token string) (*WSClient, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	url := fmt.Sprintf("%s/api/ws/rooms/%s", serverURL, roomID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	c := &WSClient{
		conn:     conn,
		incoming: make(chan signal.Message, 32),
		outgoing: make(chan signal.Message, 32),
		done:     make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *WSClient) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg signal.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.incoming <- msg
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever was queued before Close, the final
			// user_left rides here.
			for {
				select {
				case msg := <-c.outgoing:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

func (c *WSClient) Send(msg signal.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("signal client closed")
	}
	select {
	case c.outgoing <- msg:
		return nil
	default:
		log.Warn().Str("module", "client.signaling").Str("type", msg.Type).Msg("outgoing queue full, dropping")
		return errors.New("outgoing queue full")
	}
}

func (c *WSClient) Incoming() <-chan signal.Message { return c.incoming }

func (c *WSClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
