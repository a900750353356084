package engine

import (
	"context"
	"fmt"

	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// AcumulaWithCod is the acumula payload served outward.
type AcumulaWithCod struct {
	types.Acumula
	CodOrder  string `json:"codOrder"`
	EnProceso bool   `json:"enProceso"`
}

// StartManual opens the manual phase: ESPERA_MANUAL → PROCESO_MANUAL.
func (e *Engine) StartManual(ctx context.Context, idOrder int64) (*AcumulaWithCod, error) {
	unlock := e.LockOrder(idOrder)
	defer unlock()

	e.logger.Info("iniciando proceso manual", zap.Int64("id_order", idOrder))

	now := e.now()
	var out *AcumulaWithCod
	var orderOut *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoEsperaManual {
			return types.InvalidState(
				"solo se puede iniciar proceso manual en órdenes ESPERA_MANUAL, estado actual: %s", order.Estado)
		}

		open, err := tx.OpenAcumulaByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		if open != nil {
			return types.InvalidState("ya existe un proceso manual activo para esta orden")
		}

		acumula := &types.Acumula{
			IDOrder:    idOrder,
			HoraInicio: now,
		}
		id, err := tx.InsertAcumula(ctx, acumula)
		if err != nil {
			return err
		}
		acumula.IDAcumula = id

		order.Estado = types.EstadoProcesoManual
		order.Acumula = true
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		out = &AcumulaWithCod{Acumula: *acumula, CodOrder: order.CodOrder, EnProceso: true}
		orderOut, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("proceso manual iniciado",
		zap.String("cod_order", out.CodOrder),
		zap.Time("hora_inicio", now))

	e.publishOrderStateChanged(orderOut,
		fmt.Sprintf("Proceso manual iniciado para orden %s", orderOut.CodOrder))

	return out, nil
}

// FinishManual closes the manual phase: PROCESO_MANUAL → FINALIZADA.
// Metrics are not touched; they were computed when the order left EN_PROCESO.
func (e *Engine) FinishManual(ctx context.Context, idOrder int64, spec types.FinishAcumulaSpec) (*AcumulaWithCod, error) {
	if spec.NumCajasManual < 0 {
		return nil, types.InvalidInput("numCajasManual no puede ser negativo: %d", spec.NumCajasManual)
	}

	unlock := e.LockOrder(idOrder)
	defer unlock()

	e.logger.Info("finalizando proceso manual", zap.Int64("id_order", idOrder))

	now := e.now()
	var out *AcumulaWithCod
	var orderOut *types.OrderWithExtra

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}
		if order.Estado != types.EstadoProcesoManual {
			return types.InvalidState(
				"solo se puede finalizar proceso manual en órdenes PROCESO_MANUAL, estado actual: %s", order.Estado)
		}

		acumula, err := tx.OpenAcumulaByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		if acumula == nil {
			return types.InvalidState("no se encontró proceso manual activo para la orden: %d", idOrder)
		}

		total := minutes(now.Sub(acumula.HoraInicio))
		acumula.HoraFin = &now
		acumula.TiempoTotal = &total
		acumula.NumCajasManual = spec.NumCajasManual
		if err := tx.UpdateAcumula(ctx, acumula); err != nil {
			return err
		}

		order.Estado = types.EstadoFinalizada
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		out = &AcumulaWithCod{Acumula: *acumula, CodOrder: order.CodOrder}
		orderOut, err = withExtra(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, asEngineError(err)
	}

	e.logger.Info("proceso manual finalizado",
		zap.String("cod_order", out.CodOrder),
		zap.Float64("tiempo_total", *out.TiempoTotal),
		zap.Int("num_cajas_manual", out.NumCajasManual))

	e.publishOrderStateChanged(orderOut,
		fmt.Sprintf("Proceso manual finalizado para orden %s. Orden FINALIZADA.", orderOut.CodOrder))

	return out, nil
}

// AcumulaByOrder returns the manual-phase record of an order. Orders without
// one get an empty payload with enProceso=false.
func (e *Engine) AcumulaByOrder(ctx context.Context, idOrder int64) (*AcumulaWithCod, error) {
	var out *AcumulaWithCod
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := mustOrder(ctx, tx, idOrder)
		if err != nil {
			return err
		}

		acumula, err := tx.AcumulaByOrder(ctx, idOrder)
		if err != nil {
			return err
		}
		if acumula == nil {
			out = &AcumulaWithCod{
				Acumula:  types.Acumula{IDOrder: idOrder},
				CodOrder: order.CodOrder,
			}
			return nil
		}

		out = &AcumulaWithCod{
			Acumula:   *acumula,
			CodOrder:  order.CodOrder,
			EnProceso: acumula.Open(),
		}
		return nil
	})
	if err != nil {
		return nil, asEngineError(err)
	}
	return out, nil
}
