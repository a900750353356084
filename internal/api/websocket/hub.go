package websocket

import (
	"encoding/json"
	"sync"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/telemetry"
	"go.uber.org/zap"
)

// Hub fans bus events out to operator WebSocket clients. Clients subscribe
// to topics; an event is delivered to every client subscribed to its topic.
// Subscribers never call back into the engines.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Bus feed
	sub *events.Subscription

	mu sync.RWMutex

	logger *zap.Logger

	done chan struct{}
}

// envelope is the frame sent to clients: the bus event plus its topic so the
// UI can route it.
type envelope struct {
	Topic string `json:"topic"`
	events.Event
}

func NewHub(bus *events.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sub:        bus.Subscribe(256),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run drains registrations and the bus feed. Call in its own goroutine.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			telemetry.WSClients.Set(float64(total))
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			telemetry.WSClients.Set(float64(total))
			h.logger.Info("WebSocket client unregistered",
				zap.String("client_id", client.id.String()),
				zap.Int("total_clients", total))

		case te, ok := <-h.sub.C():
			if !ok {
				return
			}
			h.broadcast(te)
		}
	}
}

// Stop closes the bus feed and terminates Run.
func (h *Hub) Stop() {
	h.sub.Close()
	close(h.done)
}

func (h *Hub) broadcast(te events.TopicEvent) {
	data, err := json.Marshal(envelope{Topic: te.Topic, Event: te.Event})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.subscribedTo(te.Topic) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow or dead client: drop it rather than stall the feed.
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("client send buffer full, unregistering",
				zap.String("client_id", client.id.String()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
