// Package hub accepts dashboard WebSocket connections and fans
// messages out to them by topic. It knows nothing about auth or event
// semantics; the broadcaster decides who is subscribed to what.
package hub

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"
)

// Callbacks notifies the owner of connection lifecycle and inbound
// messages. All fields are optional.
type Callbacks struct {
	OnConnect    func(connID string)
	OnMessage    func(connID string, data []byte)
	OnDisconnect func(connID string)
}

// Hub tracks live dashboard connections and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	topics  map[string]map[string]struct{}
	nextID  uint64
	closed  bool

	upgrader ws.Upgrader
	logger   *slog.Logger
	cb       Callbacks
}

// New creates an empty hub.
func New(logger *slog.Logger, cb Callbacks) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		topics:  make(map[string]map[string]struct{}),
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// The dashboard is served from a different origin than the
			// presence host; tokens gate access, not origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		cb:     cb,
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.nextID++
	c := newClient(fmt.Sprintf("conn-%d", h.nextID), conn, h)
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("WebSocket connected", "conn", c.id, "remote", r.RemoteAddr)
	if h.cb.OnConnect != nil {
		h.cb.OnConnect(c.id)
	}

	go c.writePump()
	go c.readPump()
}

// Subscribe adds the connection to a topic. Unknown connections are a
// no-op; the caller may race against a disconnect.
func (h *Hub) Subscribe(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]struct{})
		h.topics[topic] = members
	}
	members[connID] = struct{}{}
}

// Unsubscribe removes the connection from a topic.
func (h *Hub) Unsubscribe(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromTopic(connID, topic)
}

func (h *Hub) removeFromTopic(connID, topic string) {
	members, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Publish sends data to every member of the topic. Slow connections
// drop the message rather than block the caller. Returns the number of
// connections the message was queued for.
func (h *Hub) Publish(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for connID := range h.topics[topic] {
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		if c.trySend(data) {
			sent++
		} else {
			h.logger.Warn("send buffer full, dropping message", "conn", connID, "topic", topic)
		}
	}
	return sent
}

// Send queues data for a single connection. Returns false if the
// connection is gone or its buffer is full.
func (h *Hub) Send(connID string, data []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.trySend(data)
}

// Disconnect closes a single connection and drops its subscriptions.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.close()
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of members of the topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// unregister removes a client after its pumps have stopped.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for topic := range h.topics {
		h.removeFromTopic(c.id, topic)
	}
	h.mu.Unlock()

	h.logger.Debug("WebSocket disconnected", "conn", c.id)
	if h.cb.OnDisconnect != nil {
		h.cb.OnDisconnect(c.id)
	}
}

func (h *Hub) inbound(connID string, data []byte) {
	if h.cb.OnMessage != nil {
		h.cb.OnMessage(connID, data)
	}
}
