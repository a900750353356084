package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rnp/cremer-mes/internal/types"
)

func (t *pgxTx) MetricasByOrder(ctx context.Context, idOrder int64) (*types.Metricas, error) {
	var m types.Metricas
	err := t.tx.QueryRow(ctx, `
		SELECT id_order, tiempo_total, tiempo_pausado, tiempo_activo,
		       disponibilidad, rendimiento, calidad, oee, std_real, por_cump_pedido
		FROM metricas
		WHERE id_order = $1
	`, idOrder).Scan(
		&m.IDOrder, &m.TiempoTotal, &m.TiempoPausado, &m.TiempoActivo,
		&m.Disponibilidad, &m.Rendimiento, &m.Calidad, &m.OEE,
		&m.StdReal, &m.PorCumpPedido,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan metricas: %w", err)
	}
	return &m, nil
}

func (t *pgxTx) InsertMetricas(ctx context.Context, m *types.Metricas) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO metricas (
			id_order, tiempo_total, tiempo_pausado, tiempo_activo,
			disponibilidad, rendimiento, calidad, oee, std_real, por_cump_pedido
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.IDOrder, m.TiempoTotal, m.TiempoPausado, m.TiempoActivo,
		m.Disponibilidad, m.Rendimiento, m.Calidad, m.OEE,
		m.StdReal, m.PorCumpPedido)
	if err != nil {
		return fmt.Errorf("failed to insert metricas: %w", err)
	}
	return nil
}

func (t *pgxTx) DeleteMetricas(ctx context.Context, idOrder int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM metricas WHERE id_order = $1`, idOrder); err != nil {
		return fmt.Errorf("failed to delete metricas: %w", err)
	}
	return nil
}
