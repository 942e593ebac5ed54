// Package ws streams run progress to WebSocket monitors and accepts the
// start and abort commands that drive a hosted run.
package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket monitor.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// trySend queues a message without blocking. A monitor that cannot keep up
// loses the message rather than stalling the clearing loop.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub tracks the connected monitors and fans run events out to them. It
// retains the latest run-state message so monitors that connect mid-run
// catch up immediately instead of waiting for the next event.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	state   []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a monitor and replays the retained state to it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.state != nil {
		c.trySend(h.state)
	}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// SetState stores the message replayed to monitors that connect later.
// It does not broadcast; transitions have their own event messages.
func (h *Hub) SetState(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = msg
}

// Broadcast sends a message to every connected monitor.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.trySend(msg) {
			slog.Warn("ws: client buffer full, dropping message")
		}
	}
}

// ClientCount returns the number of connected monitors.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
