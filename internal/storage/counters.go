package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rnp/cremer-mes/internal/types"
)

const counterColumns = `
	id, id_order, quantity, is_active, created_at, last_updated, last_bottle_counted_at`

func scanCounter(row pgx.Row) (*types.BottleCounter, error) {
	var c types.BottleCounter
	err := row.Scan(
		&c.ID, &c.IDOrder, &c.Quantity, &c.IsActive,
		&c.CreatedAt, &c.LastUpdated, &c.LastBottleCountedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bottle counter: %w", err)
	}
	return &c, nil
}

func (t *pgxTx) CounterByOrder(ctx context.Context, idOrder int64) (*types.BottleCounter, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+counterColumns+` FROM bottle_counters WHERE id_order = $1
	`, idOrder)
	return scanCounter(row)
}

func (t *pgxTx) ActiveCounter(ctx context.Context) (*types.BottleCounter, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT`+counterColumns+` FROM bottle_counters WHERE is_active
	`)
	return scanCounter(row)
}

func (t *pgxTx) InsertCounter(ctx context.Context, c *types.BottleCounter) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bottle_counters (
			id_order, quantity, is_active, created_at, last_updated, last_bottle_counted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.IDOrder, c.Quantity, c.IsActive, c.CreatedAt, c.LastUpdated, c.LastBottleCountedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bottle counter: %w", err)
	}
	return id, nil
}

func (t *pgxTx) UpdateCounter(ctx context.Context, c *types.BottleCounter) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE bottle_counters SET
			quantity = $2,
			is_active = $3,
			last_updated = $4,
			last_bottle_counted_at = $5
		WHERE id = $1
	`, c.ID, c.Quantity, c.IsActive, c.LastUpdated, c.LastBottleCountedAt)
	if err != nil {
		return fmt.Errorf("failed to update bottle counter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *pgxTx) DeactivateAllCounters(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `UPDATE bottle_counters SET is_active = FALSE WHERE is_active`); err != nil {
		return fmt.Errorf("failed to deactivate counters: %w", err)
	}
	return nil
}
