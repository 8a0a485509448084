// Package hub implements a websocket broadcast hub for connected
// operator clients. Adapted from hub.go: the same register/unregister
// client map, ping/pong heartbeat, and non-blocking broadcast-with-
// disconnect-on-write-error shape, generalized from broadcasting whale
// trades and a raw ticker price to broadcasting any eventbus.Event this
// tree publishes.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Message is the wire shape every broadcast event takes.
type Message struct {
	Type      string      `json:"type"`
	Kind      string      `json:"kind,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of connected operator clients and broadcasts
// messages to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
}

func New() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and manages the connection's
// lifecycle: registers the client, sends an initial status message,
// starts a pinger goroutine, and blocks reading until the client
// disconnects (the read loop exists only to detect disconnects; this
// hub is broadcast-only, it never expects client-sent payloads).
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("hub: upgrade error: %v", err)
		return
	}

	h.register(conn)
	conn.WriteJSON(Message{Type: "connection_init", Timestamp: time.Now().UnixMilli()})

	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
	logging.Info("hub: client connected, total %d", len(h.clients))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		logging.Info("hub: client disconnected, total %d", len(h.clients))
	}
}

// Broadcast sends msg to every connected client, dropping and closing
// any client whose write fails or does not finish within writeWait, so
// one stalled socket cannot hold up the rest for longer than that.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("hub: broadcast marshal error: %v", err)
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Relay subscribes to bus and broadcasts every event to connected
// clients until ctx is cancelled.
func (h *Hub) Relay(ctx context.Context, bus *eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(Message{Type: "event", Kind: string(ev.Kind), Data: ev.Data, Timestamp: time.Now().UnixMilli()})
		}
	}
}
