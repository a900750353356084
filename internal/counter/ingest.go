package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/gpio"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/telemetry"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// OrderLocker serializes counter writes against order state transitions.
// Implemented by the order engine's per-order lock table.
type OrderLocker interface {
	LockOrder(id int64) func()
}

// CounterUpdate is the payload published on bottle-counter topics.
type CounterUpdate struct {
	types.BottleCounter
	CodOrder string `json:"codOrder,omitempty"`
}

// Ingest converts falling edges of the counter pin into per-order counter
// increments. A pulse is attributed to the most recently started order in
// EN_PROCESO; with no such order the pulse is dropped silently.
type Ingest struct {
	store    storage.Store
	bus      *events.Bus
	locker   OrderLocker
	logger   *zap.Logger
	location *time.Location
	clock    func() time.Time
}

func NewIngest(store storage.Store, bus *events.Bus, locker OrderLocker, logger *zap.Logger, location *time.Location) *Ingest {
	return &Ingest{
		store:    store,
		bus:      bus,
		locker:   locker,
		logger:   logger,
		location: location,
		clock:    time.Now,
	}
}

// Attach subscribes the ingest to the counter pin of the GPIO link.
func (i *Ingest) Attach(link *gpio.Link, counterPin int) {
	link.Subscribe(counterPin, func(ev gpio.PinEvent) {
		if ev.Previous == 1 && ev.Value == 0 {
			i.logger.Info("botella detectada",
				zap.Int("pin", ev.Pin))
			i.Increment(context.Background())
		}
	})
}

// Increment processes one falling edge. The attribution target is picked in
// a read transaction, the per-order lock is taken, and the write transaction
// revalidates the estado under the lock. Transaction failures drop the pulse;
// the post-commit publish can never roll the increment back.
func (i *Ingest) Increment(ctx context.Context) {
	var target *types.Order

	err := i.store.WithTx(ctx, func(tx storage.Tx) error {
		orders, err := tx.OrdersByEstado(ctx, types.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(orders) > 0 {
			target = mostRecentlyStarted(orders)
		}
		return nil
	})
	if err != nil {
		telemetry.PulsesDropped.WithLabelValues("transaction").Inc()
		i.logger.Error("pulso de contador descartado", zap.Error(err))
		return
	}
	if target == nil {
		telemetry.PulsesDropped.WithLabelValues("no_order").Inc()
		i.logger.Debug("no hay orden EN_PROCESO, botella no contada")
		return
	}

	unlock := i.locker.LockOrder(target.IDOrder)
	defer unlock()

	var update *CounterUpdate

	err = i.store.WithTx(ctx, func(tx storage.Tx) error {
		// Re-read under the lock: the order may have left EN_PROCESO while
		// we were acquiring it.
		current, err := tx.OrderByID(ctx, target.IDOrder)
		if err != nil {
			return err
		}
		if current == nil || current.Estado != types.EstadoEnProceso {
			return nil
		}

		now := i.clock().In(i.location)

		c, err := tx.CounterByOrder(ctx, current.IDOrder)
		if err != nil {
			return err
		}
		if c == nil {
			c = &types.BottleCounter{
				IDOrder:   current.IDOrder,
				CreatedAt: now,
			}
		}

		c.IsActive = true
		c.Quantity++
		c.LastUpdated = now
		c.LastBottleCountedAt = &now

		if c.ID == 0 {
			id, err := tx.InsertCounter(ctx, c)
			if err != nil {
				return err
			}
			c.ID = id
		} else if err := tx.UpdateCounter(ctx, c); err != nil {
			return err
		}

		update = &CounterUpdate{BottleCounter: *c, CodOrder: current.CodOrder}
		return nil
	})

	if err != nil {
		telemetry.PulsesDropped.WithLabelValues("transaction").Inc()
		i.logger.Error("pulso de contador descartado", zap.Error(err))
		return
	}
	if update == nil {
		telemetry.PulsesDropped.WithLabelValues("no_order").Inc()
		i.logger.Debug("la orden dejó EN_PROCESO, botella no contada")
		return
	}

	telemetry.BottlesCounted.Inc()
	i.logger.Info("contador actualizado",
		zap.String("cod_order", update.CodOrder),
		zap.Int("quantity", update.Quantity))

	i.publish(update)
}

// mostRecentlyStarted picks the attribution target: max horaInicio, falling
// back to the first row when no order carries one.
func mostRecentlyStarted(orders []types.Order) *types.Order {
	var best *types.Order
	for idx := range orders {
		o := &orders[idx]
		if o.HoraInicio == nil {
			continue
		}
		if best == nil || o.HoraInicio.After(*best.HoraInicio) {
			best = o
		}
	}
	if best == nil {
		best = &orders[0]
	}
	return best
}

func (i *Ingest) publish(update *CounterUpdate) {
	msg := fmt.Sprintf("Contador actualizado: %d botellas", update.Quantity)
	i.bus.Publish(events.TopicBottleCounter, events.TypeBottleCounterUpdate, msg, update)
	i.bus.Publish(events.TopicBottleCounterDetail(update.IDOrder), events.TypeBottleCounterUpdate, msg, update)
}

// Reset zeroes the counter of an order and notifies subscribers.
func (i *Ingest) Reset(ctx context.Context, idOrder int64) (*CounterUpdate, error) {
	unlock := i.locker.LockOrder(idOrder)
	defer unlock()

	i.logger.Warn("reseteando contador", zap.Int64("id_order", idOrder))

	var update *CounterUpdate
	err := i.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := ResetTx(ctx, tx, idOrder, i.clock().In(i.location)); err != nil {
			return err
		}
		c, err := tx.CounterByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		update = &CounterUpdate{BottleCounter: *c}
		if order, err := tx.OrderByID(ctx, idOrder); err == nil && order != nil {
			update.CodOrder = order.CodOrder
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.publish(update)
	return update, nil
}

// CounterByOrder returns the counter of one order, or nil when none exists.
func (i *Ingest) CounterByOrder(ctx context.Context, idOrder int64) (*CounterUpdate, error) {
	var update *CounterUpdate
	err := i.store.WithTx(ctx, func(tx storage.Tx) error {
		c, err := tx.CounterByOrder(ctx, idOrder)
		if err != nil || c == nil {
			return err
		}
		update = &CounterUpdate{BottleCounter: *c}
		if order, err := tx.OrderByID(ctx, idOrder); err == nil && order != nil {
			update.CodOrder = order.CodOrder
		}
		return nil
	})
	return update, err
}

// ActiveCounter returns the single active counter, or nil when none is.
func (i *Ingest) ActiveCounter(ctx context.Context) (*CounterUpdate, error) {
	var update *CounterUpdate
	err := i.store.WithTx(ctx, func(tx storage.Tx) error {
		c, err := tx.ActiveCounter(ctx)
		if err != nil || c == nil {
			return err
		}
		update = &CounterUpdate{BottleCounter: *c}
		if order, err := tx.OrderByID(ctx, c.IDOrder); err == nil && order != nil {
			update.CodOrder = order.CodOrder
		}
		return nil
	})
	return update, err
}
