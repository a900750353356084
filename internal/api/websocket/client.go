package websocket

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one operator UI connection. It starts subscribed to every topic;
// subscribe/unsubscribe messages narrow the feed.
type Client struct {
	id     uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	topicsMu sync.RWMutex
	topics   map[string]bool
	all      bool
}

// clientMessage is the inbound control frame.
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// subscribedTo reports whether the client wants events of this topic. A
// subscription to "orders" also covers "orders/{id}".
func (c *Client) subscribedTo(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()

	if c.all {
		return true
	}
	if c.topics[topic] {
		return true
	}
	if idx := strings.IndexByte(topic, '/'); idx > 0 {
		return c.topics[topic[:idx]]
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			break
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()

	switch msg.Action {
	case "subscribe":
		if msg.Topic == "*" {
			c.all = true
			return
		}
		c.all = false
		c.topics[msg.Topic] = true
	case "unsubscribe":
		if msg.Topic == "*" {
			c.all = false
			c.topics = make(map[string]bool)
			return
		}
		delete(c.topics, msg.Topic)
	default:
		c.logger.Debug("unknown client message",
			zap.String("action", msg.Action),
			zap.String("client_id", c.id.String()))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
		topics: make(map[string]bool),
		all:    true,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
