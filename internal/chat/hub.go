package chat

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNameTaken is returned by Register when the username is already in use.
var ErrNameTaken = errors.New("username already taken")

// Client is a registered peer.
type Client struct {
	ID       string
	Username string
	Conn     *Connection
}

// Hub keeps track of registered clients by id and username.
// The server shares a single Hub across all transports.
type Hub struct {
	clients map[string]*Client
	names   map[string]string
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		names:   make(map[string]string),
	}
}

// Register claims username for conn and returns the new client with a
// freshly generated id. The connection id itself is left to the caller.
func (h *Hub) Register(username string, conn *Connection) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.names[username]; ok {
		return nil, ErrNameTaken
	}

	client := &Client{
		ID:       uuid.NewString(),
		Username: username,
		Conn:     conn,
	}
	h.clients[client.ID] = client
	h.names[username] = client.ID
	return client, nil
}

// Unregister removes a client from the hub. Unknown ids are ignored.
func (h *Hub) Unregister(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[id]
	if !ok {
		return nil
	}
	delete(h.clients, id)
	delete(h.names, client.Username)
	return client
}

// Lookup returns the client registered under id.
func (h *Hub) Lookup(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[id]
	return client, ok
}

// Clients returns a snapshot of the registered clients.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount returns number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
