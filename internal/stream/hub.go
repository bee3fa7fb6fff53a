// Package stream implements the supplemental live-tail websocket at
// GET /escrows/stream: a register/unregister/broadcast channel loop that
// fans out decoded domain events to every connected client.
package stream

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

// Hub manages websocket connections for live-tailing projected events.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan chainevents.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan chainevents.Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the hub's event loop until the stop channel is closed (the
// caller is expected to run this in its own goroutine under the pipeline
// supervisor).
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteJSON(ev); err != nil {
					log.Printf("stream: write error, dropping client: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast fans a projected event out to every connected client. Never
// blocks indefinitely: a full buffer drops the event rather than stalling
// the Subscriber that called it.
func (h *Hub) Broadcast(ev chainevents.Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("stream: broadcast buffer full, dropping event %s", ev.EventID)
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection. Clients are read-only: any message they send is discarded,
// the read loop exists only to detect disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade error: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
