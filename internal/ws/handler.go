package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SGIModel/MUSE-OS/internal/mca"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RunFunc launches one simulation run, reporting progress through the
// callback. The handler hands it a fresh context per run and cancels it on
// abort.
type RunFunc func(ctx context.Context, cb mca.Callback) error

// Handler manages WebSocket connections and drives hosted runs. One run is
// active at a time.
type Handler struct {
	hub *Hub
	run RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	runID   string
	started time.Time
}

func NewHandler(hub *Hub, run RunFunc) *Handler {
	h := &Handler{hub: hub, run: run}
	h.pushState()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws: read failed", "err", err)
			}
			return
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("ws: invalid message", "err", err)
		return
	}

	switch env.Type {
	case TypeRunStart:
		h.startRun(c)

	case TypeRunAbort:
		h.abortRun()

	default:
		slog.Warn("ws: unknown message type", "type", env.Type)
	}
}

func (h *Handler) startRun(c *Client) {
	h.mu.Lock()
	if h.cancel != nil {
		id := h.runID
		h.mu.Unlock()
		h.sendTo(c, TypeRunError, RunErrorPayload{ID: id, Message: "a run is already active"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.runID = uuid.NewString()
	h.started = time.Now()
	id, started := h.runID, h.started
	h.mu.Unlock()
	h.pushState()

	h.broadcast(TypeRunStarted, RunStartedPayload{
		ID:      id,
		Started: started.UTC().Format(time.RFC3339),
	})

	go func() {
		err := h.run(ctx, NewBridge(h.hub))

		h.mu.Lock()
		h.cancel = nil
		h.runID = ""
		h.mu.Unlock()
		cancel()
		h.pushState()

		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("ws: run failed", "id", id, "err", err)
			h.broadcast(TypeRunError, RunErrorPayload{ID: id, Message: err.Error()})
			return
		}
		h.broadcast(TypeRunFinished, RunFinishedPayload{
			ID:      id,
			Elapsed: time.Since(started).Round(time.Millisecond).String(),
			Aborted: errors.Is(err, context.Canceled),
		})
	}()
}

func (h *Handler) abortRun() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Handler) state() RunStatePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return RunStatePayload{Running: h.cancel != nil, ID: h.runID}
}

func (h *Handler) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("ws: marshaling message", "type", msgType, "err", err)
		return
	}
	h.hub.Broadcast(msg)
}

// pushState stores the current run state in the hub so monitors that connect
// later receive it on registration.
func (h *Handler) pushState() {
	msg, err := NewEnvelope(TypeRunState, h.state())
	if err != nil {
		slog.Error("ws: marshaling message", "type", TypeRunState, "err", err)
		return
	}
	h.hub.SetState(msg)
}

// sendTo delivers a message to one client without blocking the reader.
func (h *Handler) sendTo(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("ws: marshaling message", "type", msgType, "err", err)
		return
	}
	c.trySend(msg)
}
