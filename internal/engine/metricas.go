package engine

import (
	"context"
	"time"

	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// pauseTotals carries the per-order pause sums partitioned by computa.
type pauseTotals struct {
	computable    float64
	nonComputable float64
}

// computeMetricas evaluates the OEE formulas. Times in minutes; horaFin must
// be resolved by the caller (order's horaFin, or now for the live variant).
func computeMetricas(order *types.Order, horaFin time.Time, totals pauseTotals) types.Metricas {
	tiempoBruto := minutes(horaFin.Sub(*order.HoraInicio))
	tiempoTotal := tiempoBruto - totals.nonComputable
	tiempoPausado := totals.computable

	tiempoActivo := tiempoTotal - tiempoPausado
	if tiempoActivo < 1.0 {
		tiempoActivo = 1.0
	}

	var disponibilidad float64
	if tiempoTotal > 0 {
		disponibilidad = tiempoActivo / tiempoTotal
	}

	botesBuenos := 0
	if order.BotesBuenos != nil {
		botesBuenos = *order.BotesBuenos
	}
	botesMalos := 0
	if order.BotesMalos != nil {
		botesMalos = *order.BotesMalos
	}
	totalProducido := botesBuenos + botesMalos

	var rendimiento float64
	if produccionEsperada := tiempoActivo * order.StdReferencia; produccionEsperada > 0 {
		rendimiento = float64(totalProducido) / produccionEsperada
	}

	var calidad float64
	if totalProducido > 0 {
		calidad = float64(botesBuenos) / float64(totalProducido)
	}

	var stdReal float64
	if tiempoActivo > 0 {
		stdReal = float64(totalProducido) / tiempoActivo
	}

	cantidad := order.Cantidad
	if cantidad < 1 {
		cantidad = 1
	}

	return types.Metricas{
		IDOrder:        order.IDOrder,
		TiempoTotal:    tiempoTotal,
		TiempoPausado:  tiempoPausado,
		TiempoActivo:   tiempoActivo,
		Disponibilidad: disponibilidad,
		Rendimiento:    rendimiento,
		Calidad:        calidad,
		OEE:            disponibilidad * rendimiento * calidad,
		StdReal:        stdReal,
		PorCumpPedido:  float64(botesBuenos) / float64(cantidad),
	}
}

// loadPauseTotals sums the closed pauses of the order inside the transaction.
func loadPauseTotals(ctx context.Context, tx storage.Tx, idOrder int64) (pauseTotals, error) {
	computable, err := tx.SumClosedPauseMinutes(ctx, idOrder, true)
	if err != nil {
		return pauseTotals{}, err
	}
	nonComputable, err := tx.SumClosedPauseMinutes(ctx, idOrder, false)
	if err != nil {
		return pauseTotals{}, err
	}
	return pauseTotals{computable: computable, nonComputable: nonComputable}, nil
}

// calcAndStoreMetricas persists the metric snapshot for a finishing order.
// Idempotent: an existing row is returned untouched. Runs inside the caller's
// transaction (finalize, or recalcular after it deleted the old row).
func (e *Engine) calcAndStoreMetricas(ctx context.Context, tx storage.Tx, order *types.Order, now time.Time) (*types.Metricas, error) {
	existing, err := tx.MetricasByOrder(ctx, order.IDOrder)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.logger.Info("las métricas ya existen, no se recalculan",
			zap.Int64("id_order", order.IDOrder))
		return existing, nil
	}

	if order.HoraInicio == nil {
		e.logger.Warn("orden sin hora de inicio, métricas omitidas",
			zap.Int64("id_order", order.IDOrder))
		return nil, nil
	}

	horaFin := now
	if order.HoraFin != nil {
		horaFin = *order.HoraFin
	}

	totals, err := loadPauseTotals(ctx, tx, order.IDOrder)
	if err != nil {
		return nil, err
	}

	m := computeMetricas(order, horaFin, totals)
	if err := tx.InsertMetricas(ctx, &m); err != nil {
		return nil, err
	}

	e.logger.Info("métricas calculadas",
		zap.Int64("id_order", order.IDOrder),
		zap.Float64("oee", m.OEE),
		zap.Float64("disponibilidad", m.Disponibilidad),
		zap.Float64("rendimiento", m.Rendimiento),
		zap.Float64("calidad", m.Calidad))

	return &m, nil
}

// MetricasByOrder returns the stored snapshot of an order, or nil.
func (e *Engine) MetricasByOrder(ctx context.Context, idOrder int64) (*types.Metricas, error) {
	var out *types.Metricas
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := mustOrder(ctx, tx, idOrder); err != nil {
			return err
		}
		var err error
		out, err = tx.MetricasByOrder(ctx, idOrder)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

// RecalcularMetricas deletes the stored snapshot and recomputes it from the
// current rows. Only closed orders qualify. Idempotent by construction.
func (e *Engine) RecalcularMetricas(ctx context.Context, idOrder int64) (*types.Metricas, error) {
	unlock := e.LockOrder(idOrder)
	defer unlock()

	e.logger.Info("recalculando métricas", zap.Int64("id_order", idOrder))

	now := e.now()
	var out *types.Metricas

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		switch order.Estado {
		case types.EstadoFinalizada, types.EstadoEsperaManual, types.EstadoProcesoManual:
		default:
			return types.InvalidState(
				"solo se pueden recalcular métricas de órdenes FINALIZADA, ESPERA_MANUAL o PROCESO_MANUAL, estado actual: %s",
				order.Estado)
		}

		if err := tx.DeleteMetricas(ctx, idOrder); err != nil {
			return err
		}

		out, err = e.calcAndStoreMetricas(ctx, tx, order, now)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}

// MetricasSimuladas computes the live (non-persisted) snapshot of an order
// using now as horaFin. A stored row takes precedence.
func (e *Engine) MetricasSimuladas(ctx context.Context, idOrder int64) (*types.Metricas, error) {
	now := e.now()
	var out *types.Metricas

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}

		stored, err := tx.MetricasByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		if stored != nil {
			out = stored
			return nil
		}

		if order.HoraInicio == nil {
			out = &types.Metricas{IDOrder: idOrder}
			return nil
		}

		horaFin := now
		if order.HoraFin != nil {
			horaFin = *order.HoraFin
		}

		totals, err := loadPauseTotals(ctx, tx, idOrder)
		if err != nil {
			return err
		}

		m := computeMetricas(order, horaFin, totals)
		out = &m
		return nil
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}
