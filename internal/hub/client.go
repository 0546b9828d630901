package hub

import (
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	sendChSize      = 256
	readBufferSize  = 1024
	writeBufferSize = 4096
	maxMessageSize  = 16 * 1024
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// client wraps one dashboard connection with a single write goroutine.
type client struct {
	id   string
	conn *ws.Conn
	hub  *Hub

	sendCh chan []byte
	done   chan struct{} // closed on shutdown

	closeOnce sync.Once
}

func newClient(id string, conn *ws.Conn, h *Hub) *client {
	return &client{
		id:     id,
		conn:   conn,
		hub:    h,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
	}
}

// trySend queues data for the write pump. Non-blocking; false if full
// or the client is shutting down.
func (c *client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

// writePump drains sendCh onto the wire. Only one writePump runs per
// connection; all writes go through it, including pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Debug("WebSocket SetWriteDeadline error", "conn", c.id, "error", err)
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.hub.logger.Debug("WebSocket write error", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound messages and routes them to the hub callback.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.hub.logger.Debug("WebSocket read error", "conn", c.id, "error", err)
				}
			}
			return
		}
		c.hub.inbound(c.id, message)
	}
}

// close shuts down both pumps and removes the client from the hub.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.hub.unregister(c)
	})
}
