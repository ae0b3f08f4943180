package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client represents a websocket client connection. Writes are serialised because the
// hub pump and the heartbeat ticker share the connection.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger, done: make(chan struct{})}
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.closeConn()
		return err
	}
	return nil
}

// Heartbeat emits a ping frame.
func (c *Client) Heartbeat() error {
	return c.Send(EncodePing(time.Now()))
}

// Close terminates the connection.
func (c *Client) Close() {
	c.closeConn()
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadLoop discards inbound frames until the peer disconnects.
func (c *Client) ReadLoop() {
	defer c.closeConn()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) closeConn() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
