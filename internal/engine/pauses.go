package engine

import (
	"context"
	"fmt"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// PauseWithCod is the pause payload served outward.
type PauseWithCod struct {
	types.Pause
	CodOrder string `json:"codOrder"`
}

// OpenPause opens a pause for an EN_PROCESO order. The tipo may be omitted
// and supplied later at close time (two-phase pause).
func (e *Engine) OpenPause(ctx context.Context, idOrder int64, spec types.OpenPauseSpec) (*PauseWithCod, error) {
	if spec.Tipo != nil && !spec.Tipo.Known() {
		return nil, types.InvalidInput("tipo de pausa desconocido: %s", *spec.Tipo)
	}

	unlock := e.LockOrder(idOrder)
	defer unlock()

	e.logger.Info("creando pausa",
		zap.Int64("id_order", idOrder),
		zap.Any("tipo", spec.Tipo))

	now := e.now()
	var created *PauseWithCod
	var orderOut *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoEnProceso {
			return types.InvalidState(
				"solo se pueden crear pausas para órdenes EN_PROCESO, estado actual: %s", order.Estado)
		}

		open, err := tx.ActivePauseByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		if open != nil {
			return types.InvalidState("ya existe una pausa activa para esta orden (ID %d)", open.IDPausa)
		}

		pause := &types.Pause{
			IDOrder:     idOrder,
			Tipo:        spec.Tipo,
			Descripcion: spec.Descripcion,
			Operario:    spec.Operario,
			HoraInicio:  now,
		}
		if spec.Tipo != nil {
			computa := spec.Tipo.Computa()
			pause.Computa = &computa
		}

		id, err := tx.InsertPause(ctx, pause)
		if err != nil {
			return err
		}
		pause.IDPausa = id

		order.Estado = types.EstadoPausada
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		created = &PauseWithCod{Pause: *pause, CodOrder: order.CodOrder}
		orderOut, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("pausa creada",
		zap.Int64("id_pausa", created.IDPausa),
		zap.String("cod_order", created.CodOrder))

	e.bus.Publish(events.TopicOrders, events.TypePauseCreated,
		"Nueva pausa creada en orden: "+created.CodOrder, created)
	e.bus.Publish(events.TopicOrderDetail(idOrder), events.TypePauseCreated,
		"Nueva pausa creada en orden: "+created.CodOrder, created)
	e.publishOrderStateChanged(orderOut,
		fmt.Sprintf("Orden %s cambió de EN_PROCESO a PAUSADA", orderOut.CodOrder))

	e.notifyPauseProjection(ctx, created.Tipo)
	e.NotifyActiveVisibleOrderChange(ctx)

	return created, nil
}

// ClosePause closes an open pause and returns the order to EN_PROCESO. A
// pause stored without tipo must receive one now; a different caller tipo
// replaces the stored one and computa is rederived. Descriptions concatenate.
func (e *Engine) ClosePause(ctx context.Context, idOrder, idPausa int64, spec types.ClosePauseSpec) (*PauseWithCod, error) {
	if spec.Tipo != nil && !spec.Tipo.Known() {
		return nil, types.InvalidInput("tipo de pausa desconocido: %s", *spec.Tipo)
	}

	unlock := e.LockOrder(idOrder)
	defer unlock()

	e.logger.Info("finalizando pausa",
		zap.Int64("id_pausa", idPausa),
		zap.Int64("id_order", idOrder))

	now := e.now()
	var closed *PauseWithCod
	var orderOut *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		pause, err := tx.PauseByID(ctx, idPausa)
		if err != nil {
			return err
		}
		if pause == nil {
			return types.NotFound("pausa no encontrada con ID: %d", idPausa)
		}
		if pause.IDOrder != idOrder {
			return types.InvalidInput("la pausa %d no pertenece a la orden %d", idPausa, idOrder)
		}
		if !pause.Open() {
			return types.InvalidState("la pausa %d ya está finalizada", idPausa)
		}

		switch {
		case pause.Tipo == nil && spec.Tipo == nil:
			return types.InvalidInput(
				"la pausa se creó sin tipo; debe proporcionar el tipo al finalizar")
		case pause.Tipo == nil:
			pause.Tipo = spec.Tipo
		case spec.Tipo != nil && *spec.Tipo != *pause.Tipo:
			e.logger.Info("actualizando tipo de pausa",
				zap.String("anterior", string(*pause.Tipo)),
				zap.String("nuevo", string(*spec.Tipo)))
			pause.Tipo = spec.Tipo
		}
		computa := pause.Tipo.Computa()
		pause.Computa = &computa

		if spec.Operario != "" {
			pause.Operario = spec.Operario
		}
		if spec.Descripcion != "" {
			if pause.Descripcion != "" {
				pause.Descripcion = pause.Descripcion + " | " + spec.Descripcion
			} else {
				pause.Descripcion = spec.Descripcion
			}
		}

		total := minutes(now.Sub(pause.HoraInicio))
		pause.HoraFin = &now
		pause.TiempoTotalPausa = &total

		if err := tx.UpdatePause(ctx, pause); err != nil {
			return err
		}

		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoPausada {
			return types.InvalidState(
				"la orden debe estar PAUSADA para cerrar su pausa, estado actual: %s", order.Estado)
		}

		running, err := tx.OrdersByEstado(ctx, types.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			return types.Conflict(
				"no se puede reanudar: la orden %s ya está EN_PROCESO", running[0].CodOrder)
		}
		order.Estado = types.EstadoEnProceso
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		closed = &PauseWithCod{Pause: *pause, CodOrder: order.CodOrder}
		orderOut, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("pausa finalizada",
		zap.Int64("id_pausa", closed.IDPausa),
		zap.String("tipo", string(*closed.Tipo)),
		zap.Bool("computa", *closed.Computa),
		zap.Float64("tiempo_total_pausa", *closed.TiempoTotalPausa))

	e.bus.Publish(events.TopicOrders, events.TypePauseFinished,
		"Pausa finalizada en orden: "+closed.CodOrder, closed)
	e.bus.Publish(events.TopicOrderDetail(idOrder), events.TypePauseFinished,
		"Pausa finalizada en orden: "+closed.CodOrder, closed)
	e.publishOrderStateChanged(orderOut,
		fmt.Sprintf("Orden %s cambió de PAUSADA a EN_PROCESO", orderOut.CodOrder))

	e.notifyPauseProjection(ctx, closed.Tipo)
	e.NotifyActiveVisibleOrderChange(ctx)

	return closed, nil
}

// notifyPauseProjection refreshes the projection topic matching the pause
// tipo: partial fabrication has its own feed, everything else goes to the
// non-partial feed.
func (e *Engine) notifyPauseProjection(ctx context.Context, tipo *types.TipoPausa) {
	if tipo != nil && *tipo == types.TipoFabricacionParcial {
		e.NotifyFabricacionParcialUpdate(ctx)
	} else {
		e.NotifyPausesNonPartialUpdate(ctx)
	}
}

// PausesByOrder lists the pauses of an order, newest first.
func (e *Engine) PausesByOrder(ctx context.Context, idOrder int64) ([]PauseWithCod, error) {
	var out []PauseWithCod
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		pauses, err := tx.PausesByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		out = make([]PauseWithCod, 0, len(pauses))
		for _, p := range pauses {
			out = append(out, PauseWithCod{Pause: p, CodOrder: order.CodOrder})
		}
		return nil
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

// ActivePause returns the open pause of an order, or nil.
func (e *Engine) ActivePause(ctx context.Context, idOrder int64) (*PauseWithCod, error) {
	var out *PauseWithCod
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		pause, err := tx.ActivePauseByOrder(ctx, idOrder)
		if err != nil || pause == nil {
			return err
		}
		out = &PauseWithCod{Pause: *pause, CodOrder: order.CodOrder}
		return nil
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}
