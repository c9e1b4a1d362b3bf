// Package feed is the persistence collaborator: it accepts classified events
// and pushes them to connected dashboard clients over websockets.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NewLogEvent is the event name carried by every broadcast frame.
const NewLogEvent = "newLog"

// defaultWriteWait bounds one frame write so a stalled client cannot hold the hub.
const defaultWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one broadcast frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub manages websocket clients and broadcasts classified events.
type Hub struct {
	logger    *slog.Logger
	writeWait time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		writeWait: defaultWriteWait,
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// HandleWebSocket upgrades the connection and registers the client until it disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("feed client connected", slog.String("remote", r.RemoteAddr))

	go func() {
		defer h.remove(conn)
		for {
			// Clients never send anything meaningful; reading detects disconnects.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends data to every connected client as a newLog frame.
func (h *Hub) Broadcast(data json.RawMessage) {
	frame, err := json.Marshal(Message{Event: NewLogEvent, Data: data})
	if err != nil {
		h.logger.Error("feed marshal failed", slog.Any("error", err))
		return
	}

	// Writes are serialised: a websocket.Conn supports one concurrent writer.
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Warn("feed write failed", slog.Any("error", err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
