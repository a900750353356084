package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rnp/cremer-mes/internal/types"
)

const orderColumns = `
	id_order, cod_order, operario, lote, articulo, descripcion, estado,
	cantidad, botes_caja, std_referencia, hora_creacion, hora_inicio, hora_fin,
	botes_buenos, botes_malos, total_cajas_cierre, cajas_previstas,
	tiempo_estimado, repercap, acumula`

func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	err := row.Scan(
		&o.IDOrder, &o.CodOrder, &o.Operario, &o.Lote, &o.Articulo,
		&o.Descripcion, &o.Estado, &o.Cantidad, &o.BotesCaja, &o.StdReferencia,
		&o.HoraCreacion, &o.HoraInicio, &o.HoraFin,
		&o.BotesBuenos, &o.BotesMalos, &o.TotalCajasCierre,
		&o.CajasPrevistas, &o.TiempoEstimado, &o.Repercap, &o.Acumula,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

func (t *pgxTx) OrderByID(ctx context.Context, id int64) (*types.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id_order = $1`, id)
	return scanOrder(row)
}

func (t *pgxTx) OrderByCod(ctx context.Context, codOrder string) (*types.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE cod_order = $1`, codOrder)
	return scanOrder(row)
}

func (t *pgxTx) OrderExistsByCod(ctx context.Context, codOrder string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE cod_order = $1)
	`, codOrder).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cod_order: %w", err)
	}
	return exists, nil
}

func (t *pgxTx) InsertOrder(ctx context.Context, o *types.Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (
			cod_order, operario, lote, articulo, descripcion, estado,
			cantidad, botes_caja, std_referencia, hora_creacion,
			cajas_previstas, tiempo_estimado, repercap, acumula
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id_order
	`, o.CodOrder, o.Operario, o.Lote, o.Articulo, o.Descripcion, o.Estado,
		o.Cantidad, o.BotesCaja, o.StdReferencia, o.HoraCreacion,
		o.CajasPrevistas, o.TiempoEstimado, o.Repercap, o.Acumula,
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	return id, nil
}

func (t *pgxTx) UpdateOrder(ctx context.Context, o *types.Order) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			estado = $2,
			hora_inicio = $3,
			hora_fin = $4,
			botes_buenos = $5,
			botes_malos = $6,
			total_cajas_cierre = $7,
			cajas_previstas = $8,
			tiempo_estimado = $9,
			repercap = $10,
			acumula = $11
		WHERE id_order = $1
	`, o.IDOrder, o.Estado, o.HoraInicio, o.HoraFin,
		o.BotesBuenos, o.BotesMalos, o.TotalCajasCierre,
		o.CajasPrevistas, o.TiempoEstimado, o.Repercap, o.Acumula)

	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgxTx) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders`
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Estado != "" {
		add("estado = $%d", filter.Estado)
	}
	if filter.Operario != "" {
		add("LOWER(operario) LIKE '%%' || $%d || '%%'", strings.ToLower(filter.Operario))
	}
	if filter.Lote != "" {
		add("LOWER(lote) LIKE '%%' || $%d || '%%'", strings.ToLower(filter.Lote))
	}
	if filter.Articulo != "" {
		add("LOWER(articulo) LIKE '%%' || $%d || '%%'", strings.ToLower(filter.Articulo))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY hora_creacion DESC"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (t *pgxTx) OrdersByEstado(ctx context.Context, estados ...types.EstadoOrder) ([]types.Order, error) {
	states := make([]string, len(estados))
	for i, e := range estados {
		states[i] = string(e)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE estado = ANY($1)
		ORDER BY hora_inicio DESC NULLS LAST
	`, states)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by estado: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (t *pgxTx) CountOrdersByEstado(ctx context.Context) (map[types.EstadoOrder]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT estado, COUNT(*) FROM orders GROUP BY estado
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.EstadoOrder]int64)
	for rows.Next() {
		var estado types.EstadoOrder
		var n int64
		if err := rows.Scan(&estado, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[estado] = n
	}
	return counts, rows.Err()
}

// DeleteOrderCascade removes the order and every dependent row. The caller
// must have written the audit snapshot first.
func (t *pgxTx) DeleteOrderCascade(ctx context.Context, id int64) error {
	for _, stmt := range []string{
		`DELETE FROM pauses WHERE id_order = $1`,
		`DELETE FROM metricas WHERE id_order = $1`,
		`DELETE FROM acumula WHERE id_order = $1`,
		`DELETE FROM extra_data WHERE id_order = $1`,
		`DELETE FROM bottle_counters WHERE id_order = $1`,
	} {
		if _, err := t.tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete order dependents: %w", err)
		}
	}

	result, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id_order = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgxTx) InsertExtraData(ctx context.Context, e *types.ExtraData) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO extra_data (id_order, formato_bote, tipo, uds_bote)
		VALUES ($1, $2, $3, $4)
	`, e.IDOrder, e.FormatoBote, e.Tipo, e.UdsBote)
	if err != nil {
		return fmt.Errorf("failed to insert extra data: %w", err)
	}
	return nil
}

func (t *pgxTx) ExtraDataByOrder(ctx context.Context, idOrder int64) (*types.ExtraData, error) {
	var e types.ExtraData
	err := t.tx.QueryRow(ctx, `
		SELECT id_order, formato_bote, tipo, uds_bote
		FROM extra_data
		WHERE id_order = $1
	`, idOrder).Scan(&e.IDOrder, &e.FormatoBote, &e.Tipo, &e.UdsBote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan extra data: %w", err)
	}
	return &e, nil
}

func collectOrders(rows pgx.Rows) ([]types.Order, error) {
	orders := make([]types.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
