package core

import (
	"encoding/json"
	"sync"

	"github.com/wikimedia/rcstream/core/backend"
)

// Hub tracks every connected client across all listeners and fans changes
// out to matching subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers a change to every client subscribed to its wiki or to
// the wildcard. Clients that cannot keep up are dropped rather than allowed
// to stall the fan-out.
func (h *Hub) Broadcast(change backend.Change) {
	frame, err := json.Marshal(changeFrame{Event: "change", Data: change.Data})
	if err != nil {
		return
	}

	var stalled []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(change.Wiki) {
			continue
		}
		if !c.deliverChange(frame) {
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		c.drop("slow client")
	}
}

// CloseAll disconnects every client, recording the given reason.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.drop(reason)
	}
}
