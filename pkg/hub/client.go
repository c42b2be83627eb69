package hub

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Connection timing for dashboard viewers.
const (
	writeTimeout  = 10 * time.Second
	idleTimeout   = 60 * time.Second
	pingInterval  = idleTimeout * 9 / 10
	maxInboundMsg = 4 * 1024
	sendBuffer    = 256
)

// Client is one websocket viewer of a hub. The hub pushes frames into send;
// the client owns the connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	sent atomic.Int64
}

// NewClient attaches conn to h. On a stopped hub the client starts closed
// and Run returns as soon as the viewer is told.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan Message, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
	return c
}

// Sent returns the number of frames written to the viewer.
func (c *Client) Sent() int64 {
	return c.sent.Load()
}

// Run streams frames to the viewer until either side goes away. It blocks,
// so call it from the websocket handler.
func (c *Client) Run() {
	go c.stream()
	c.drain()
}

// drain discards viewer input. A read error means the viewer is gone.
func (c *Client) drain() {
	defer c.leave()

	c.conn.SetReadLimit(maxInboundMsg)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// stream is the only writer on the connection.
func (c *Client) stream() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			if c.write(websocket.TextMessage, msg.Data) != nil {
				return
			}
			c.sent.Add(1)
		case <-ping.C:
			if c.write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(kind, data)
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}
