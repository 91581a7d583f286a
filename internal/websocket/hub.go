package websocket

import (
	"encoding/json"
	"log"
	"sync"

	syncengine "github.com/waregrid/picksync/internal/sync"
)

// Hub maintains the set of subscribed UI clients and broadcasts sync
// events to them. It implements the engine's event sink so the UI sees
// online transitions, cycle results and conflicts as they happen.
type Hub struct {
	// Subscribed clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound broadcast frames
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// If a client reconnects with the same ID, close the old connection
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
				delete(h.clients, client.ID)
			}
			h.clients[client.ID] = client
			log.Printf("📱 UI client connected: %s", client.ID)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 UI client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead, drop the frame
					log.Printf("⚠️ Dropping frame for slow client %s", id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts a sync event to every subscribed client.
func (h *Hub) Publish(event syncengine.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		// Broadcast queue full, the event is advisory and can be dropped
	}
}

// ClientCount returns the number of currently subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
