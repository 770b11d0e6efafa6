package sync

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"mangashelf/internal/logging"
)

const sendBuffer = 16

// client is one open connection. Only its writer goroutine touches conn
// for writing.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans library events out to the connections of the user they belong to.
type Hub struct {
	mu    sync.Mutex
	users map[string]map[*client]struct{}
}

type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
}

// remove is safe to call more than once for the same client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.users, c.userID)
	}
}

// Publish delivers v to every connection of userID. A connection whose
// buffer is full is dropped rather than blocking the publisher.
func (h *Hub) Publish(userID string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Warn().Err(err).Msg("marshal sync event")
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.users[userID] {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		logging.Warn().Str("user_id", userID).Msg("dropping slow sync client")
		h.remove(c)
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{Users: len(h.users)}
	for _, set := range h.users {
		s.Connections += len(set)
	}
	return s
}
