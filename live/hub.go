// Package live pushes activity changes to the open admin consoles over
// websockets so every view converges on the same list.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const MsgActivitiesChanged = "activities.changed"

// Message is sent to every connected console.
type Message struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub keeps the connected clients and fans messages out to them.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	log        *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		log:        log,
		clients:    make(map[*Client]bool),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("marshal live message", "err", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer: drop it, the page reconnects.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an activities.changed message. It never blocks the caller;
// when the queue is full the message is dropped.
func (h *Hub) Publish(action, id string) {
	msg := &Message{Type: MsgActivitiesChanged, ID: id, Action: action, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("live queue full, message dropped", "action", action, "id", id)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
