package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BottlesCounted counts GPIO falling edges attributed to an order.
	BottlesCounted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremer_bottles_counted_total",
		Help: "The total number of bottles counted and attributed to an order",
	})

	// PulsesDropped counts falling edges discarded because no order was
	// EN_PROCESO or the transaction failed.
	PulsesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cremer_counter_pulses_dropped_total",
		Help: "The total number of counter pulses dropped",
	}, []string{"reason"})

	// AutoPauses counts auto-pause detector actions per pin role.
	AutoPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cremer_auto_pauses_total",
		Help: "The total number of automatic pauses opened and closed",
	}, []string{"action", "signal"})

	// GPIOReconnects counts GPIO link reconnection attempts.
	GPIOReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremer_gpio_reconnects_total",
		Help: "The total number of GPIO link reconnections",
	})

	// WSClients tracks connected operator WebSocket clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cremer_ws_clients",
		Help: "The number of connected operator WebSocket clients",
	})

	// EventsPublished counts bus events per event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cremer_events_published_total",
		Help: "The total number of events published on the bus",
	}, []string{"event_type"})
)
