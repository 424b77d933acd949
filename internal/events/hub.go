package events

import (
	"encoding/json"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
)

// Event is pushed to dashboard subscribers after a state change commits.
type Event struct {
	Type  string      `json:"type"`
	Id    string      `json:"id"`
	State string      `json:"state"`
	Time  int64       `json:"time"`
	Data  interface{} `json:"data,omitempty"`
}

type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Hub fans events out to the connected websocket clients. A client that
// cannot keep up loses events rather than slowing the publisher down.
type Hub struct {
	mu      sync.RWMutex
	clients map[*WsClient]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*WsClient]struct{})}
}

func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logs.GetLogger().Errorf("Failed encode %s event %s, error: %+v", e.Type, e.Id, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.send(data) {
			logs.GetLogger().Warnf("dropped %s event %s for slow subscriber", e.Type, e.Id)
		}
	}
}

func (h *Hub) add(c *WsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *WsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WsClient]struct{})
	h.closed = true
	h.mu.Unlock()

	for c := range clients {
		c.Close()
	}
}
