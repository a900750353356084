package storage

import (
	"context"
	"fmt"

	"github.com/rnp/cremer-mes/internal/types"
)

func (t *pgxTx) InsertDeleteAudit(ctx context.Context, a *types.OrderDeleteAudit) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_delete_audit (
			id_order_deleted, cod_order, operario, lote, articulo,
			estado_al_eliminar, fecha_creacion_order, cantidad,
			botes_buenos, botes_malos, deleted_by, motivo, deleted_at, ip_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id_audit
	`, a.IDOrderDeleted, a.CodOrder, a.Operario, a.Lote, a.Articulo,
		a.EstadoAlEliminar, a.FechaCreacionOrder, a.Cantidad,
		a.BotesBuenos, a.BotesMalos, a.DeletedBy, a.Motivo, a.DeletedAt,
		nullIfEmpty(a.IPAddress),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert delete audit: %w", err)
	}
	return id, nil
}
