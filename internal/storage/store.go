package storage

import (
	"context"

	"github.com/rnp/cremer-mes/internal/types"
)

// Store opens transactions. Every engine operation runs inside exactly one
// transaction; reads that feed a decision are reissued inside the same Tx
// that performs the writes.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional surface used by the engines. Lookup methods return
// (nil, nil) when the row does not exist; the engines translate that into a
// NotFound of their own vocabulary.
type Tx interface {
	// Orders
	OrderByID(ctx context.Context, id int64) (*types.Order, error)
	OrderByCod(ctx context.Context, codOrder string) (*types.Order, error)
	OrderExistsByCod(ctx context.Context, codOrder string) (bool, error)
	InsertOrder(ctx context.Context, o *types.Order) (int64, error)
	UpdateOrder(ctx context.Context, o *types.Order) error
	ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error)
	OrdersByEstado(ctx context.Context, estados ...types.EstadoOrder) ([]types.Order, error)
	CountOrdersByEstado(ctx context.Context) (map[types.EstadoOrder]int64, error)
	DeleteOrderCascade(ctx context.Context, id int64) error

	// ExtraData sidecar
	InsertExtraData(ctx context.Context, e *types.ExtraData) error
	ExtraDataByOrder(ctx context.Context, idOrder int64) (*types.ExtraData, error)

	// Pauses
	InsertPause(ctx context.Context, p *types.Pause) (int64, error)
	UpdatePause(ctx context.Context, p *types.Pause) error
	PauseByID(ctx context.Context, idPausa int64) (*types.Pause, error)
	ActivePauseByOrder(ctx context.Context, idOrder int64) (*types.Pause, error)
	PausesByOrder(ctx context.Context, idOrder int64) ([]types.Pause, error)
	SumClosedPauseMinutes(ctx context.Context, idOrder int64, computa bool) (float64, error)
	ActivePausesExcludingTipo(ctx context.Context, tipo types.TipoPausa) ([]types.Pause, error)
	OrderIDsWithActivePauseTipo(ctx context.Context, tipo types.TipoPausa) ([]int64, error)

	// Metricas
	MetricasByOrder(ctx context.Context, idOrder int64) (*types.Metricas, error)
	InsertMetricas(ctx context.Context, m *types.Metricas) error
	DeleteMetricas(ctx context.Context, idOrder int64) error

	// Acumula
	InsertAcumula(ctx context.Context, a *types.Acumula) (int64, error)
	UpdateAcumula(ctx context.Context, a *types.Acumula) error
	AcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error)
	OpenAcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error)

	// Bottle counters
	CounterByOrder(ctx context.Context, idOrder int64) (*types.BottleCounter, error)
	ActiveCounter(ctx context.Context) (*types.BottleCounter, error)
	InsertCounter(ctx context.Context, c *types.BottleCounter) (int64, error)
	UpdateCounter(ctx context.Context, c *types.BottleCounter) error
	DeactivateAllCounters(ctx context.Context) error

	// Delete audit
	InsertDeleteAudit(ctx context.Context, a *types.OrderDeleteAudit) (int64, error)
}
