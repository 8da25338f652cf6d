package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ringside/internal/pipeline"
)

// EventHub fans pipeline events out to WebSocket clients
type EventHub struct {
	// clients maps session filter -> set of connections, "" receives all sessions
	clients map[string]map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds a connection for a session filter
func (h *EventHub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*websocket.Conn]bool)
	}
	h.clients[sessionID][conn] = true
	log.Printf("[WS] Events client registered (filter %q, total: %d)", sessionID, len(h.clients[sessionID]))
}

// Unregister removes a connection
func (h *EventHub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, sessionID)
		}
	}
}

// ClientCount returns the total number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Run forwards events from bus until ctx is done. Delivery is decoupled
// from the sessions: a slow client loses events instead of stalling frames.
func (h *EventHub) Run(ctx context.Context, bus *pipeline.EventBus) {
	events, unsubscribe := bus.SubscribeChannel(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(event)
		}
	}
}

// Broadcast sends an event to the clients whose filter matches
func (h *EventHub) Broadcast(event *pipeline.Event) {
	h.mu.RLock()
	var targets []*websocket.Conn
	for conn := range h.clients[""] {
		targets = append(targets, conn)
	}
	if event.SessionID != "" {
		for conn := range h.clients[event.SessionID] {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(NewEventMessage(event))
	if err != nil {
		log.Printf("[WS] Error marshaling event message: %v", err)
		return
	}

	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			conn.Close()
		}
	}
}
