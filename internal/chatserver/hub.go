// internal/chatserver/hub.go

package chatserver

import (
	"context"
	"log"
	"sync"
)

// Hub maintains active websocket connections, one per user
type Hub struct {
	// Registered clients
	clients    map[string]*Client
	clientsMux sync.RWMutex

	// Register/unregister clients
	register   chan *Client
	unregister chan *Client

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer func() {
		h.cleanup()
		close(h.done)
	}()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			return
		}
	}
}

// Register hands a new client to the hub. It returns false once the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	// Remove old connection for the same user
	if oldClient, exists := h.clients[client.userID]; exists && oldClient != client {
		oldClient.Close()
	} else if !exists {
		activeConnections.Inc()
	}

	h.clients[client.userID] = client

	log.Printf("User %s connected. Total clients: %d", client.userID, len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()

	client.Close()

	// a replaced client must not evict its successor
	if current, exists := h.clients[client.userID]; exists && current == client {
		delete(h.clients, client.userID)
		activeConnections.Dec()
		log.Printf("User %s disconnected. Total clients: %d", client.userID, len(h.clients))
	}
}

func (h *Hub) cleanup() {
	// Close all client connections
	h.clientsMux.Lock()
	for _, client := range h.clients {
		client.Close()
	}
	activeConnections.Sub(float64(len(h.clients)))
	h.clients = make(map[string]*Client)
	h.clientsMux.Unlock()
}

// SendToUser queues an encoded frame for userID. It returns false when the
// user has no open connection.
func (h *Hub) SendToUser(userID string, data []byte) bool {
	h.clientsMux.RLock()
	client, exists := h.clients[userID]
	h.clientsMux.RUnlock()

	if !exists {
		return false
	}

	if !client.trySend(data) {
		// Unregister if channel is blocked
		go h.Unregister(client)
		return false
	}
	return true
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	_, exists := h.clients[userID]
	return exists
}

func (h *Hub) GetActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Shutdown stops Run and closes every client.
func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done
}
