package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/hive/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans eventbus.Event values out to every connected websocket client,
// grounded on web.Hub's buffered-channel-plus-select/default-drop pattern
// — the Gateway-side half of spec.md §4.8's bounded/drop-on-overflow
// requirement.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan eventbus.Event
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan eventbus.Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Broadcast(ev eventbus.Event) {
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("gateway websocket broadcast channel full, dropping event")
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// subscribeEvents forwards every eventbus topic into the Hub — the
// events.subscribe operation of spec.md §6, served continuously rather
// than per-connection so a late-joining websocket client only misses
// events published before it registered, same as the teacher's
// subscribeEvents/Hub split.
func (g *Gateway) subscribeEvents() {
	if g.events == nil {
		return
	}
	if _, err := g.events.SubscribeAll(func(ev eventbus.Event) {
		g.hub.Broadcast(ev)
	}); err != nil {
		slog.Error("gateway event subscription failed", "error", err)
	}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	g.hub.Register(conn)
	defer func() {
		g.hub.Unregister(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
