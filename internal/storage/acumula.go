package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rnp/cremer-mes/internal/types"
)

const acumulaColumns = `
	id_acumula, id_order, hora_inicio, hora_fin, tiempo_total, num_cajas_manual`

func scanAcumula(row pgx.Row) (*types.Acumula, error) {
	var a types.Acumula
	err := row.Scan(
		&a.IDAcumula, &a.IDOrder, &a.HoraInicio, &a.HoraFin,
		&a.TiempoTotal, &a.NumCajasManual,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan acumula: %w", err)
	}
	return &a, nil
}

func (t *pgxTx) InsertAcumula(ctx context.Context, a *types.Acumula) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO acumula (id_order, hora_inicio, hora_fin, tiempo_total, num_cajas_manual)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id_acumula
	`, a.IDOrder, a.HoraInicio, a.HoraFin, a.TiempoTotal, a.NumCajasManual).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert acumula: %w", err)
	}
	return id, nil
}

func (t *pgxTx) UpdateAcumula(ctx context.Context, a *types.Acumula) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE acumula SET
			hora_fin = $2,
			tiempo_total = $3,
			num_cajas_manual = $4
		WHERE id_acumula = $1
	`, a.IDAcumula, a.HoraFin, a.TiempoTotal, a.NumCajasManual)
	if err != nil {
		return fmt.Errorf("failed to update acumula: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgxTx) AcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error) {
	row := t.tx.QueryRow(ctx, `SELECT`+acumulaColumns+` FROM acumula WHERE id_order = $1`, idOrder)
	return scanAcumula(row)
}

func (t *pgxTx) OpenAcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+acumulaColumns+`
		FROM acumula
		WHERE id_order = $1 AND hora_fin IS NULL
	`, idOrder)
	return scanAcumula(row)
}
