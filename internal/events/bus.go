package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rnp/cremer-mes/internal/telemetry"
	"go.uber.org/zap"
)

// Event types emitted by the core.
const (
	TypeOrderCreated             = "ORDER_CREATED"
	TypeOrderStateChanged        = "ORDER_STATE_CHANGED"
	TypeOrderDeleted             = "ORDER_DELETED"
	TypePauseCreated             = "PAUSE_CREATED"
	TypePauseFinished            = "PAUSE_FINISHED"
	TypeFabricacionParcialUpdate = "FABRICACION_PARCIAL_UPDATE"
	TypePausesNonPartialUpdate   = "PAUSES_NON_PARTIAL_UPDATE"
	TypeBottleCounterUpdate      = "BOTTLE_COUNTER_UPDATE"
	TypeActiveOrderChanged       = "ACTIVE_ORDER_CHANGED"
)

// Topic names.
const (
	TopicOrders             = "orders"
	TopicPausesNonPartial   = "pauses-non-partial"
	TopicFabricacionParcial = "fabricacion-parcial"
	TopicBottleCounter      = "bottle-counter"
	TopicActiveOrder        = "active-order"
)

// TopicOrderDetail is the per-order topic.
func TopicOrderDetail(idOrder int64) string {
	return fmt.Sprintf("%s/%d", TopicOrders, idOrder)
}

// TopicBottleCounterDetail is the per-order counter topic.
func TopicBottleCounterDetail(idOrder int64) string {
	return fmt.Sprintf("%s/%d", TopicBottleCounter, idOrder)
}

// Event is the envelope published on every topic.
type Event struct {
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicEvent pairs an event with the topic it was published on.
type TopicEvent struct {
	Topic string
	Event Event
}

type subscriber struct {
	id uuid.UUID
	ch chan TopicEvent
}

// Subscription is a live feed of all published events. The consumer filters
// by topic. Close it when done; a subscriber that falls behind loses events
// rather than blocking publishers.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

func (s *Subscription) C() <-chan TopicEvent { return s.sub.ch }

func (s *Subscription) Close() { s.bus.unsubscribe(s.sub.id) }

// Bus is the in-process fan-out of typed events. Engines publish strictly
// after commit; a failed delivery is dropped and logged, never propagated.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*subscriber
	logger   *zap.Logger
	location *time.Location
	clock    func() time.Time
}

func NewBus(logger *zap.Logger, location *time.Location) *Bus {
	return &Bus{
		subs:     make(map[uuid.UUID]*subscriber),
		logger:   logger,
		location: location,
		clock:    time.Now,
	}
}

// Subscribe registers a consumer of every topic with the given buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	sub := &subscriber{
		id: uuid.New(),
		ch: make(chan TopicEvent, buffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return &Subscription{bus: b, sub: sub}
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish fans an event out to every subscriber. Per-topic order is preserved
// for a single publisher; slow subscribers drop the event instead of blocking.
func (b *Bus) Publish(topic, eventType, message string, data any) {
	ev := Event{
		EventType: eventType,
		Message:   message,
		Data:      data,
		Timestamp: b.clock().In(b.location),
	}

	telemetry.EventsPublished.WithLabelValues(eventType).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- TopicEvent{Topic: topic, Event: ev}:
		default:
			b.logger.Warn("event subscriber buffer full, event dropped",
				zap.String("topic", topic),
				zap.String("event_type", eventType))
		}
	}
}
