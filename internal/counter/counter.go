package counter

import (
	"context"
	"time"

	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
)

// ActivateTx deactivates every counter and creates-or-activates the counter
// of the given order. Runs inside the caller's transaction (the order engine
// calls it from iniciar; closing a pause does not call it).
func ActivateTx(ctx context.Context, tx storage.Tx, idOrder int64, now time.Time) error {
	if err := tx.DeactivateAllCounters(ctx); err != nil {
		return err
	}

	c, err := tx.CounterByOrder(ctx, idOrder)
	if err != nil {
		return err
	}

	if c == nil {
		c = &types.BottleCounter{
			IDOrder:     idOrder,
			Quantity:    0,
			IsActive:    true,
			CreatedAt:   now,
			LastUpdated: now,
		}
		_, err := tx.InsertCounter(ctx, c)
		return err
	}

	c.IsActive = true
	c.LastUpdated = now
	return tx.UpdateCounter(ctx, c)
}

// DeactivateTx marks the order's counter inactive. Missing counters are fine:
// an order may finish without ever having counted a bottle.
func DeactivateTx(ctx context.Context, tx storage.Tx, idOrder int64, now time.Time) error {
	c, err := tx.CounterByOrder(ctx, idOrder)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}

	c.IsActive = false
	c.LastUpdated = now
	return tx.UpdateCounter(ctx, c)
}

// ResetTx zeroes the counter's quantity and clears the last-bottle stamp.
func ResetTx(ctx context.Context, tx storage.Tx, idOrder int64, now time.Time) error {
	c, err := tx.CounterByOrder(ctx, idOrder)
	if err != nil {
		return err
	}
	if c == nil {
		return types.NotFound("no existe contador para la orden ID: %d", idOrder)
	}

	c.Quantity = 0
	c.LastBottleCountedAt = nil
	c.LastUpdated = now
	return tx.UpdateCounter(ctx, c)
}
