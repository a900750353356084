package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishEnvelope(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	bus := NewBus(zap.NewNop(), loc)
	stamp := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	bus.clock = func() time.Time { return stamp }

	sub := bus.Subscribe(8)
	defer sub.Close()

	bus.Publish(TopicOrders, TypeOrderCreated, "Nueva orden creada: OF-1", map[string]any{"codOrder": "OF-1"})

	te := <-sub.C()
	require.Equal(t, TopicOrders, te.Topic)
	require.Equal(t, TypeOrderCreated, te.Event.EventType)
	require.Equal(t, "Nueva orden creada: OF-1", te.Event.Message)
	require.Equal(t, loc, te.Event.Timestamp.Location())
	require.True(t, te.Event.Timestamp.Equal(stamp))
}

func TestPerTopicOrderingSinglePublisher(t *testing.T) {
	bus := NewBus(zap.NewNop(), time.UTC)
	sub := bus.Subscribe(64)
	defer sub.Close()

	for i := 0; i < 20; i++ {
		bus.Publish(TopicBottleCounter, TypeBottleCounterUpdate, fmt.Sprintf("n=%d", i), i)
	}

	for i := 0; i < 20; i++ {
		te := <-sub.C()
		require.Equal(t, i, te.Event.Data)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(zap.NewNop(), time.UTC)
	sub := bus.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(TopicOrders, TypeOrderStateChanged, "m", i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Only the first event fits the buffer.
	te := <-sub.C()
	require.Equal(t, 0, te.Event.Data)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop(), time.UTC)
	sub := bus.Subscribe(1)
	sub.Close()

	_, ok := <-sub.C()
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish(TopicOrders, TypeOrderCreated, "m", nil)
}

func TestDetailTopics(t *testing.T) {
	require.Equal(t, "orders/7", TopicOrderDetail(7))
	require.Equal(t, "bottle-counter/7", TopicBottleCounterDetail(7))
}
