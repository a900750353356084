package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rnp/cremer-mes/internal/types"
)

const pauseColumns = `
	id_pausa, id_order, tipo, descripcion, operario, computa,
	hora_inicio, hora_fin, tiempo_total_pausa`

func scanPause(row pgx.Row) (*types.Pause, error) {
	var p types.Pause
	var descripcion, operario *string
	err := row.Scan(
		&p.IDPausa, &p.IDOrder, &p.Tipo, &descripcion, &operario,
		&p.Computa, &p.HoraInicio, &p.HoraFin, &p.TiempoTotalPausa,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pause: %w", err)
	}
	if descripcion != nil {
		p.Descripcion = *descripcion
	}
	if operario != nil {
		p.Operario = *operario
	}
	return &p, nil
}

func (t *pgxTx) InsertPause(ctx context.Context, p *types.Pause) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO pauses (
			id_order, tipo, descripcion, operario, computa,
			hora_inicio, hora_fin, tiempo_total_pausa
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id_pausa
	`, p.IDOrder, p.Tipo, nullIfEmpty(p.Descripcion), nullIfEmpty(p.Operario),
		p.Computa, p.HoraInicio, p.HoraFin, p.TiempoTotalPausa,
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to insert pause: %w", err)
	}
	return id, nil
}

func (t *pgxTx) UpdatePause(ctx context.Context, p *types.Pause) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE pauses SET
			tipo = $2,
			descripcion = $3,
			operario = $4,
			computa = $5,
			hora_fin = $6,
			tiempo_total_pausa = $7
		WHERE id_pausa = $1
	`, p.IDPausa, p.Tipo, nullIfEmpty(p.Descripcion), nullIfEmpty(p.Operario),
		p.Computa, p.HoraFin, p.TiempoTotalPausa)

	if err != nil {
		return fmt.Errorf("failed to update pause: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgxTx) PauseByID(ctx context.Context, idPausa int64) (*types.Pause, error) {
	row := t.tx.QueryRow(ctx, `SELECT`+pauseColumns+` FROM pauses WHERE id_pausa = $1`, idPausa)
	return scanPause(row)
}

func (t *pgxTx) ActivePauseByOrder(ctx context.Context, idOrder int64) (*types.Pause, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+pauseColumns+`
		FROM pauses
		WHERE id_order = $1 AND hora_fin IS NULL
	`, idOrder)
	return scanPause(row)
}

func (t *pgxTx) PausesByOrder(ctx context.Context, idOrder int64) ([]types.Pause, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT`+pauseColumns+`
		FROM pauses
		WHERE id_order = $1
		ORDER BY hora_inicio DESC
	`, idOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to query pauses: %w", err)
	}
	defer rows.Close()

	return collectPauses(rows)
}

// SumClosedPauseMinutes totals tiempo_total_pausa over closed pauses of the
// order with the given computa classification.
func (t *pgxTx) SumClosedPauseMinutes(ctx context.Context, idOrder int64, computa bool) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(tiempo_total_pausa), 0)
		FROM pauses
		WHERE id_order = $1 AND hora_fin IS NOT NULL AND computa = $2
	`, idOrder, computa).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pause minutes: %w", err)
	}
	return total, nil
}

func (t *pgxTx) ActivePausesExcludingTipo(ctx context.Context, tipo types.TipoPausa) ([]types.Pause, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT`+pauseColumns+`
		FROM pauses
		WHERE hora_fin IS NULL AND (tipo IS NULL OR tipo <> $1)
		ORDER BY hora_inicio DESC
	`, tipo)
	if err != nil {
		return nil, fmt.Errorf("failed to query active pauses: %w", err)
	}
	defer rows.Close()

	return collectPauses(rows)
}

func (t *pgxTx) OrderIDsWithActivePauseTipo(ctx context.Context, tipo types.TipoPausa) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id_order
		FROM pauses
		WHERE hora_fin IS NULL AND tipo = $1
	`, tipo)
	if err != nil {
		return nil, fmt.Errorf("failed to query pause order ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectPauses(rows pgx.Rows) ([]types.Pause, error) {
	pauses := make([]types.Pause, 0)
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, err
		}
		pauses = append(pauses, *p)
	}
	return pauses, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
