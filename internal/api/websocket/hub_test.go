package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rnp/cremer-mes/internal/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHubClient(buffer int) *Client {
	return &Client{
		id:     uuid.New(),
		send:   make(chan []byte, buffer),
		logger: zap.NewNop(),
		topics: make(map[string]bool),
		all:    true,
	}
}

func TestSubscribedToTopics(t *testing.T) {
	c := newHubClient(1)

	// Default: everything.
	require.True(t, c.subscribedTo("orders"))
	require.True(t, c.subscribedTo("bottle-counter/3"))

	c.handleMessage(clientMessage{Action: "subscribe", Topic: "orders"})
	require.True(t, c.subscribedTo("orders"))
	require.True(t, c.subscribedTo("orders/7"))
	require.False(t, c.subscribedTo("bottle-counter"))

	c.handleMessage(clientMessage{Action: "unsubscribe", Topic: "orders"})
	require.False(t, c.subscribedTo("orders"))

	c.handleMessage(clientMessage{Action: "subscribe", Topic: "*"})
	require.True(t, c.subscribedTo("active-order"))
}

func TestBroadcastFiltersByTopic(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), time.UTC)
	h := NewHub(bus, zap.NewNop())
	defer h.Stop()

	ordersOnly := newHubClient(4)
	ordersOnly.handleMessage(clientMessage{Action: "subscribe", Topic: "orders"})
	everything := newHubClient(4)

	h.clients[ordersOnly] = true
	h.clients[everything] = true

	h.broadcast(events.TopicEvent{
		Topic: "bottle-counter",
		Event: events.Event{EventType: events.TypeBottleCounterUpdate},
	})

	require.Len(t, everything.send, 1)
	require.Empty(t, ordersOnly.send)

	var env envelope
	require.NoError(t, json.Unmarshal(<-everything.send, &env))
	require.Equal(t, "bottle-counter", env.Topic)
	require.Equal(t, events.TypeBottleCounterUpdate, env.EventType)
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), time.UTC)
	h := NewHub(bus, zap.NewNop())
	defer h.Stop()

	slow := newHubClient(1)
	h.clients[slow] = true

	for i := 0; i < 3; i++ {
		h.broadcast(events.TopicEvent{
			Topic: "orders",
			Event: events.Event{EventType: events.TypeOrderStateChanged},
		})
	}

	// The client fell behind and was unregistered.
	require.Zero(t, h.ClientCount())
}
