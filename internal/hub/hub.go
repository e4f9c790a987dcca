// Package hub fans JSON events out to WebSocket clients grouped into named
// rooms. Execution events go to per-task rooms ("task_<id>"); platform-wide
// events go to the global room.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// GlobalRoom receives platform-wide events
const GlobalRoom = "global"

// TaskRoom returns the room name carrying one task's live output
func TaskRoom(taskID int64) string {
	return fmt.Sprintf("task_%d", taskID)
}

// Hub tracks rooms and their clients
type Hub struct {
	log logr.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// New creates an empty Hub
func New(log logr.Logger) *Hub {
	return &Hub{
		log:   log.WithName("hub"),
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.room] = clients
	}
	clients[c] = struct{}{}
	h.log.V(1).Info("client joined", "room", c.room, "client", c.id, "count", len(clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	c.closeSend()
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
	h.log.V(1).Info("client left", "room", c.room, "client", c.id, "count", len(clients))
}

// Broadcast sends a JSON message to every client in a room. Clients whose
// send buffer is full are dropped from the room.
func (h *Hub) Broadcast(room string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.log.Error(err, "failed to marshal broadcast", "room", room)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			h.log.Info("dropping slow client", "room", room, "client", c.id)
			h.unregister(c)
		}
	}
}

// Count returns the number of clients in a room, or across all rooms when
// room is empty
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if room != "" {
		return len(h.rooms[room])
	}
	total := 0
	for _, clients := range h.rooms {
		total += len(clients)
	}
	return total
}
