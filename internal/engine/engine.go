package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// Engine drives the order, pause, metric and acumula life cycles. All state
// transitions of one order are serialized through a per-order lock held from
// operation entry until the transaction commits or rolls back; events are
// published strictly after commit.
type Engine struct {
	store    storage.Store
	bus      *events.Bus
	logger   *zap.Logger
	location *time.Location
	clock    func() time.Time

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(store storage.Store, bus *events.Bus, logger *zap.Logger, location *time.Location) *Engine {
	return &Engine{
		store:    store,
		bus:      bus,
		logger:   logger,
		location: location,
		clock:    time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// LockOrder serializes mutations of one order. The returned function releases
// the lock. Counter ingest uses the same table to serialize pulses against
// order transitions.
func (e *Engine) LockOrder(id int64) func() {
	e.locksMu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

func (e *Engine) now() time.Time {
	return e.clock().In(e.location)
}

// minutes converts a duration to the fractional minutes stored everywhere.
func minutes(d time.Duration) float64 {
	return d.Seconds() / 60.0
}

// asEngineError keeps typed errors intact and wraps anything else (storage
// failures, context cancellation) as Internal.
func asEngineError(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	return types.Internal("operation failed", err)
}

// mustOrder loads an order inside the transaction or fails with NotFound.
func mustOrder(ctx context.Context, tx storage.Tx, id int64) (*types.Order, error) {
	order, err := tx.OrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.NotFound("orden no encontrada con ID: %d", id)
	}
	return order, nil
}

// withExtra joins the order with its sidecar for outward payloads.
func withExtra(ctx context.Context, tx storage.Tx, order *types.Order) (*types.OrderWithExtra, error) {
	extra, err := tx.ExtraDataByOrder(ctx, order.IDOrder)
	if err != nil {
		return nil, err
	}

	out := &types.OrderWithExtra{Order: *order}
	if extra != nil {
		out.FormatoBote = extra.FormatoBote
		out.TipoArticulo = extra.Tipo
		out.UdsBote = extra.UdsBote
	}
	return out, nil
}

// publishOrderStateChanged fans the order payload out to the general topic
// and the per-order topic.
func (e *Engine) publishOrderStateChanged(order *types.OrderWithExtra, message string) {
	e.bus.Publish(events.TopicOrders, events.TypeOrderStateChanged, message, order)
	e.bus.Publish(events.TopicOrderDetail(order.IDOrder), events.TypeOrderStateChanged, message, order)
}
