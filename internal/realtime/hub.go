// Package realtime pushes request decisions to a kid's open websocket
// connections.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/pkg/models"
)

// ErrHubBusy is returned when the broadcast buffer is full
var ErrHubBusy = errors.New("realtime hub busy")

// Message is the envelope written to clients
type Message struct {
	Type      string      `json:"type"`
	KidID     int64       `json:"kid_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients per kid
type Hub struct {
	clients    map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logging.Logger
}

// NewHub creates a hub; call Run to start it
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("realtime"),
	}
}

// Run processes registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.kidID]; !ok {
				h.clients[client.kidID] = make(map[*Client]bool)
			}
			h.clients[client.kidID][client] = true
			h.mu.Unlock()
			h.logger.WithKidID(client.kidID).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.KidID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.kidID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.kidID)
	}
	h.logger.WithKidID(client.kidID).Debug("Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// Register adds a client. After the hub stops the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToKid queues message for every connection of the kid. A kid with no
// open connections is not an error.
func (h *Hub) SendToKid(kidID int64, message interface{}) error {
	if h.Connections(kidID) == 0 {
		return nil
	}

	msg := Message{KidID: kidID, Data: message, Timestamp: time.Now().UTC(), Type: "notification"}
	if event, ok := message.(*models.RequestEvent); ok {
		msg.Type = event.Event
	}

	select {
	case h.broadcast <- msg:
		return nil
	default:
		return ErrHubBusy
	}
}

// Connections returns how many clients the kid has open
func (h *Hub) Connections(kidID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[kidID])
}
