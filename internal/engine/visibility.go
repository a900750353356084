package engine

import (
	"context"
	"sort"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// ActiveVisibleOrder computes the order whose status should be shown live:
// the most recently started order that is EN_PROCESO, or PAUSADA with a pause
// other than FABRICACION_PARCIAL. Returns nil when nothing is visible.
func (e *Engine) ActiveVisibleOrder(ctx context.Context) (*types.OrderWithExtra, error) {
	var out *types.OrderWithExtra
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := activeVisibleOrderTx(ctx, tx, e.logger)
		if err != nil || order == nil {
			return err
		}
		out, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

func activeVisibleOrderTx(ctx context.Context, tx storage.Tx, logger *zap.Logger) (*types.Order, error) {
	active, err := tx.OrdersByEstado(ctx, types.EstadoEnProceso, types.EstadoPausada)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	// Most recently started first; orders without horaInicio sink to the end.
	sort.SliceStable(active, func(i, j int) bool {
		hi, hj := active[i].HoraInicio, active[j].HoraInicio
		switch {
		case hi == nil:
			return false
		case hj == nil:
			return true
		default:
			return hi.After(*hj)
		}
	})

	for idx := range active {
		order := &active[idx]

		if order.Estado == types.EstadoEnProceso {
			return order, nil
		}

		pause, err := tx.ActivePauseByOrder(ctx, order.IDOrder)
		if err != nil {
			return nil, err
		}
		if pause == nil {
			logger.Warn("orden PAUSADA sin pausa activa",
				zap.Int64("id_order", order.IDOrder))
			return order, nil
		}
		if pause.Tipo != nil && *pause.Tipo == types.TipoFabricacionParcial {
			continue
		}
		return order, nil
	}

	return nil, nil
}

// NotifyActiveVisibleOrderChange recomputes the projection and publishes it.
// Called after every operation that can change what the line shows live.
func (e *Engine) NotifyActiveVisibleOrderChange(ctx context.Context) {
	visible, err := e.ActiveVisibleOrder(ctx)
	if err != nil {
		e.logger.Error("no se pudo calcular la orden activa visible", zap.Error(err))
		return
	}

	message := "No hay órdenes activas visibles"
	if visible != nil {
		message = "Orden activa visible: " + visible.CodOrder
	}

	e.bus.Publish(events.TopicActiveOrder, events.TypeActiveOrderChanged, message, visible)
}

// NotifyFabricacionParcialUpdate publishes the list of orders currently
// hidden behind a FABRICACION_PARCIAL pause.
func (e *Engine) NotifyFabricacionParcialUpdate(ctx context.Context) {
	var orders []types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		ids, err := tx.OrderIDsWithActivePauseTipo(ctx, types.TipoFabricacionParcial)
		if err != nil {
			return err
		}

		orders = make([]types.OrderWithExtra, 0, len(ids))
		for _, id := range ids {
			order, err := tx.OrderByID(ctx, id)
			if err != nil {
				return err
			}
			if order == nil {
				continue
			}
			withX, err := withExtra(ctx, tx, order)
			if err != nil {
				return err
			}
			orders = append(orders, *withX)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("no se pudo calcular la lista de fabricación parcial", zap.Error(err))
		return
	}

	e.bus.Publish(events.TopicFabricacionParcial, events.TypeFabricacionParcialUpdate,
		"Lista de órdenes con fabricación parcial actualizada", orders)
}

// NotifyPausesNonPartialUpdate publishes the open pauses excluding partial
// fabrication.
func (e *Engine) NotifyPausesNonPartialUpdate(ctx context.Context) {
	var pauses []PauseWithCod

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		open, err := tx.ActivePausesExcludingTipo(ctx, types.TipoFabricacionParcial)
		if err != nil {
			return err
		}

		pauses = make([]PauseWithCod, 0, len(open))
		for _, p := range open {
			order, err := tx.OrderByID(ctx, p.IDOrder)
			if err != nil {
				return err
			}
			withCod := PauseWithCod{Pause: p}
			if order != nil {
				withCod.CodOrder = order.CodOrder
			}
			pauses = append(pauses, withCod)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("no se pudo calcular la lista de pausas activas", zap.Error(err))
		return
	}

	e.bus.Publish(events.TopicPausesNonPartial, events.TypePausesNonPartialUpdate,
		"Lista de pausas activas (sin fabricación parcial) actualizada", pauses)
}
