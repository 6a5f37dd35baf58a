package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame
	pongWait       = 60 * time.Second    // Time allowed to read the next pong
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	maxMessageSize = 1 << 20             // Largest inbound frame accepted
	sendBufferSize = 256                 // Outbound frames queued per connection
)

// Client is one websocket connection.
type Client struct {
	UserID string          // Authenticated user, empty when auth is disabled
	Conn   *websocket.Conn // Underlying gorilla connection

	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn with a fresh connection id.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Deliver queues data for the write pump without blocking.
func (c *Client) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops delivery and lets the write pump shut the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump writes queued frames and pings to the connection until the send
// channel is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Closed by the fabric.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
