package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rnp/cremer-mes/internal/counter"
	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// CreateOrder writes a new order in estado CREADA together with its sidecar.
func (e *Engine) CreateOrder(ctx context.Context, spec types.CreateOrderSpec) (*types.OrderWithExtra, error) {
	if err := validateCreateSpec(spec); err != nil {
		return nil, err
	}

	e.logger.Info("creando orden", zap.String("cod_order", spec.CodOrder))

	now := e.now()
	var created *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		exists, err := tx.OrderExistsByCod(ctx, spec.CodOrder)
		if err != nil {
			return err
		}
		if exists {
			return types.AlreadyExists("ya existe una orden con el código: %s", spec.CodOrder)
		}

		order := &types.Order{
			CodOrder:       spec.CodOrder,
			Operario:       spec.Operario,
			Lote:           spec.Lote,
			Articulo:       spec.Articulo,
			Descripcion:    spec.Descripcion,
			Estado:         types.EstadoCreada,
			Cantidad:       spec.Cantidad,
			BotesCaja:      spec.BotesCaja,
			StdReferencia:  spec.StdReferencia,
			HoraCreacion:   now,
			CajasPrevistas: float64(spec.Cantidad) / float64(spec.BotesCaja),
			TiempoEstimado: float64(spec.Cantidad) / spec.StdReferencia,
		}

		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.IDOrder = id

		extra := &types.ExtraData{
			IDOrder:     id,
			FormatoBote: spec.FormatoBote,
			Tipo:        spec.Tipo,
			UdsBote:     spec.UdsBote,
		}
		if err := tx.InsertExtraData(ctx, extra); err != nil {
			return err
		}

		created = &types.OrderWithExtra{
			Order:        *order,
			FormatoBote:  extra.FormatoBote,
			TipoArticulo: extra.Tipo,
			UdsBote:      extra.UdsBote,
		}
		return nil
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("orden creada",
		zap.Int64("id_order", created.IDOrder),
		zap.String("cod_order", created.CodOrder))

	e.bus.Publish(events.TopicOrders, events.TypeOrderCreated,
		"Nueva orden creada: "+created.CodOrder, created)

	return created, nil
}

func validateCreateSpec(spec types.CreateOrderSpec) error {
	switch {
	case strings.TrimSpace(spec.CodOrder) == "":
		return types.InvalidInput("codOrder es obligatorio")
	case strings.TrimSpace(spec.Operario) == "":
		return types.InvalidInput("operario es obligatorio")
	case strings.TrimSpace(spec.Lote) == "":
		return types.InvalidInput("lote es obligatorio")
	case strings.TrimSpace(spec.Articulo) == "":
		return types.InvalidInput("articulo es obligatorio")
	case spec.Cantidad < 1:
		return types.InvalidInput("cantidad debe ser >= 1, recibido: %d", spec.Cantidad)
	case spec.BotesCaja < 1:
		return types.InvalidInput("botesCaja debe ser >= 1, recibido: %d", spec.BotesCaja)
	case spec.StdReferencia <= 0:
		return types.InvalidInput("stdReferencia debe ser > 0, recibido: %g", spec.StdReferencia)
	}
	return nil
}

// Iniciar moves CREADA → EN_PROCESO, stamps horaInicio and activates the
// order's bottle counter.
func (e *Engine) Iniciar(ctx context.Context, id int64) (*types.OrderWithExtra, error) {
	unlock := e.LockOrder(id)
	defer unlock()

	e.logger.Info("iniciando orden", zap.Int64("id_order", id))

	now := e.now()
	var updated *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoCreada {
			return types.InvalidState(
				"solo se pueden iniciar órdenes en estado CREADA, estado actual: %s", order.Estado)
		}

		// At most one order runs the line at any instant.
		running, err := tx.OrdersByEstado(ctx, types.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			return types.InvalidState(
				"ya existe una orden EN_PROCESO: %s", running[0].CodOrder)
		}

		order.Estado = types.EstadoEnProceso
		order.HoraInicio = &now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		if err := counter.ActivateTx(ctx, tx, id, now); err != nil {
			return err
		}

		updated, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("orden iniciada",
		zap.String("cod_order", updated.CodOrder),
		zap.Time("hora_inicio", now))

	e.publishOrderStateChanged(updated,
		fmt.Sprintf("Orden %s cambió de CREADA a EN_PROCESO", updated.CodOrder))
	e.NotifyActiveVisibleOrderChange(ctx)

	return updated, nil
}

// Finalizar closes an order from EN_PROCESO or PAUSADA. An open pause is
// closed in the same transaction; metrics are computed here and only here.
// acumula=true parks the order in ESPERA_MANUAL instead of FINALIZADA.
func (e *Engine) Finalizar(ctx context.Context, id int64, spec types.FinishOrderSpec) (*types.OrderWithExtra, error) {
	unlock := e.LockOrder(id)
	defer unlock()

	e.logger.Info("finalizando orden",
		zap.Int64("id_order", id),
		zap.Bool("acumula", spec.Acumula))

	if spec.BotesBuenos < 0 || spec.BotesMalos < 0 || spec.TotalCajasCierre < 0 {
		return nil, types.InvalidInput("los datos de cierre no pueden ser negativos")
	}

	now := e.now()
	var updated *types.OrderWithExtra
	var metricas *types.Metricas

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoEnProceso && order.Estado != types.EstadoPausada {
			return types.InvalidState(
				"solo se pueden finalizar órdenes EN_PROCESO o PAUSADAS, estado actual: %s", order.Estado)
		}

		if order.Estado == types.EstadoPausada {
			if err := e.closeActivePauseCascade(ctx, tx, order, now); err != nil {
				return err
			}
		}

		open, err := tx.ActivePauseByOrder(ctx, id)
		if err != nil {
			return err
		}
		if open != nil {
			return types.InvalidState(
				"no se puede finalizar la orden: hay una pausa activa (ID %d)", open.IDPausa)
		}

		order.BotesBuenos = &spec.BotesBuenos
		order.BotesMalos = &spec.BotesMalos
		order.TotalCajasCierre = &spec.TotalCajasCierre
		order.HoraFin = &now
		order.Acumula = spec.Acumula

		if spec.Acumula {
			order.Estado = types.EstadoEsperaManual
		} else {
			order.Estado = types.EstadoFinalizada
		}

		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		// Metrics are created exactly once, at the first exit from
		// EN_PROCESO. The manual phase never touches them again.
		metricas, err = e.calcAndStoreMetricas(ctx, tx, order, now)
		if err != nil {
			return err
		}

		if order.Estado == types.EstadoFinalizada {
			if err := counter.DeactivateTx(ctx, tx, id, now); err != nil {
				return err
			}
		}

		updated, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("orden finalizada",
		zap.String("cod_order", updated.CodOrder),
		zap.String("estado", string(updated.Estado)),
		zap.Float64p("oee", oeeOf(metricas)))

	if updated.Estado == types.EstadoEsperaManual {
		e.publishOrderStateChanged(updated,
			fmt.Sprintf("Orden %s en espera de proceso manual", updated.CodOrder))
	} else {
		e.publishOrderStateChanged(updated,
			fmt.Sprintf("Orden %s finalizada", updated.CodOrder))
	}
	e.NotifyActiveVisibleOrderChange(ctx)

	return updated, nil
}

func oeeOf(m *types.Metricas) *float64 {
	if m == nil {
		return nil
	}
	return &m.OEE
}

// closeActivePauseCascade closes the order's open pause with the operation's
// timestamp, keeping the stored tipo (a finalize never reclassifies).
func (e *Engine) closeActivePauseCascade(ctx context.Context, tx storage.Tx, order *types.Order, now time.Time) error {
	pause, err := tx.ActivePauseByOrder(ctx, order.IDOrder)
	if err != nil {
		return err
	}
	if pause == nil {
		// PAUSADA without an open pause is tolerated; the estado alone is
		// corrected by the finalize.
		e.logger.Warn("orden PAUSADA sin pausa activa",
			zap.Int64("id_order", order.IDOrder))
		order.Estado = types.EstadoEnProceso
		return nil
	}

	// A closed pause always carries a tipo; an untyped two-phase pause must
	// be classified through closePause before the order can finish.
	if pause.Tipo == nil {
		return types.InvalidState(
			"la pausa activa %d no tiene tipo; ciérrela indicando el tipo antes de finalizar", pause.IDPausa)
	}

	total := minutes(now.Sub(pause.HoraInicio))
	pause.HoraFin = &now
	pause.TiempoTotalPausa = &total
	computa := pause.Tipo.Computa()
	pause.Computa = &computa

	if err := tx.UpdatePause(ctx, pause); err != nil {
		return err
	}

	e.logger.Info("pausa activa cerrada al finalizar",
		zap.Int64("id_pausa", pause.IDPausa),
		zap.Float64("tiempo_total_pausa", total))

	order.Estado = types.EstadoEnProceso
	return nil
}

// DeleteOrder removes an order after writing the audit snapshot. Orders in
// EN_PROCESO or PROCESO_MANUAL cannot be deleted.
func (e *Engine) DeleteOrder(ctx context.Context, id int64, spec types.DeleteOrderSpec, ipAddress string) (*types.OrderDeleteAudit, error) {
	if strings.TrimSpace(spec.DeletedBy) == "" {
		return nil, types.InvalidInput("deletedBy es obligatorio")
	}
	if strings.TrimSpace(spec.Motivo) == "" {
		return nil, types.InvalidInput("motivo es obligatorio")
	}

	unlock := e.LockOrder(id)
	defer unlock()

	e.logger.Info("eliminando orden",
		zap.Int64("id_order", id),
		zap.String("deleted_by", spec.DeletedBy))

	now := e.now()
	var audit *types.OrderDeleteAudit
	var codOrder string

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Estado == types.EstadoEnProceso || order.Estado == types.EstadoProcesoManual {
			return types.InvalidState(
				"no se puede eliminar una orden en estado %s", order.Estado)
		}
		codOrder = order.CodOrder

		audit = &types.OrderDeleteAudit{
			IDOrderDeleted:     order.IDOrder,
			CodOrder:           order.CodOrder,
			Operario:           order.Operario,
			Lote:               order.Lote,
			Articulo:           order.Articulo,
			EstadoAlEliminar:   order.Estado,
			FechaCreacionOrder: order.HoraCreacion,
			Cantidad:           order.Cantidad,
			BotesBuenos:        order.BotesBuenos,
			BotesMalos:         order.BotesMalos,
			DeletedBy:          spec.DeletedBy,
			Motivo:             spec.Motivo,
			DeletedAt:          now,
			IPAddress:          ipAddress,
		}

		auditID, err := tx.InsertDeleteAudit(ctx, audit)
		if err != nil {
			return err
		}
		audit.IDAudit = auditID

		return tx.DeleteOrderCascade(ctx, id)
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("orden eliminada",
		zap.String("cod_order", codOrder),
		zap.String("motivo", spec.Motivo))

	e.bus.Publish(events.TopicOrders, events.TypeOrderDeleted,
		fmt.Sprintf("Orden %s eliminada por %s", codOrder, spec.DeletedBy), codOrder)

	return audit, nil
}

// OrderByID returns the order with its sidecar.
func (e *Engine) OrderByID(ctx context.Context, id int64) (*types.OrderWithExtra, error) {
	var out *types.OrderWithExtra
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, id)
		if err != nil {
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

// OrderByCod returns the order with the given business key.
func (e *Engine) OrderByCod(ctx context.Context, codOrder string) (*types.OrderWithExtra, error) {
	var out *types.OrderWithExtra
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := tx.OrderByCod(ctx, codOrder)
		if err != nil {
			return err
		}
		if order == nil {
			return types.NotFound("orden no encontrada con código: %s", codOrder)
		}
		out, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

// ListOrders returns orders matching the filter, newest first.
func (e *Engine) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	if filter.Estado != "" && !filter.Estado.Valid() {
		return nil, types.InvalidInput("estado desconocido: %s", filter.Estado)
	}

	var out []types.Order
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

// OrderStats counts orders per estado, including zeroes.
func (e *Engine) OrderStats(ctx context.Context) (map[types.EstadoOrder]int64, error) {
	var counts map[types.EstadoOrder]int64
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		counts, err = tx.CountOrdersByEstado(ctx)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	for _, estado := range []types.EstadoOrder{
		types.EstadoCreada, types.EstadoEnProceso, types.EstadoPausada,
		types.EstadoFinalizada, types.EstadoEsperaManual, types.EstadoProcesoManual,
	} {
		if _, ok := counts[estado]; !ok {
			counts[estado] = 0
		}
	}
	return counts, nil
}
