package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/storage/storagetest"
	"github.com/rnp/cremer-mes/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[int64]*sync.Mutex)}
}

func (l *fakeLocker) LockOrder(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

var ingestStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestIngest(t *testing.T) (*Ingest, *storagetest.MemoryStore) {
	t.Helper()
	store := storagetest.New()
	bus := events.NewBus(zap.NewNop(), time.UTC)
	ingest := NewIngest(store, bus, newFakeLocker(), zap.NewNop(), time.UTC)
	ingest.clock = func() time.Time { return ingestStart }
	return ingest, store
}

func seedOrder(t *testing.T, store *storagetest.MemoryStore, cod string, estado types.EstadoOrder, started *time.Time) int64 {
	t.Helper()
	var id int64
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		order := &types.Order{
			CodOrder:      cod,
			Operario:      "A",
			Lote:          "L1",
			Articulo:      "X",
			Estado:        estado,
			Cantidad:      100,
			BotesCaja:     10,
			StdReferencia: 20,
			HoraCreacion:  ingestStart,
			HoraInicio:    started,
		}
		var err error
		id, err = tx.InsertOrder(context.Background(), order)
		return err
	})
	require.NoError(t, err)
	return id
}

func counterOf(t *testing.T, store *storagetest.MemoryStore, idOrder int64) *types.BottleCounter {
	t.Helper()
	var c *types.BottleCounter
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		c, err = tx.CounterByOrder(context.Background(), idOrder)
		return err
	})
	require.NoError(t, err)
	return c
}

func timePtr(t time.Time) *time.Time { return &t }

func TestIncrementAttributesToEnProceso(t *testing.T) {
	ingest, store := newTestIngest(t)
	id := seedOrder(t, store, "OF-1", types.EstadoEnProceso, timePtr(ingestStart))

	for i := 0; i < 5; i++ {
		ingest.Increment(context.Background())
	}

	c := counterOf(t, store, id)
	require.NotNil(t, c)
	require.Equal(t, 5, c.Quantity)
	require.True(t, c.IsActive)
	require.NotNil(t, c.LastBottleCountedAt)
}

func TestIncrementDropsWithoutOrder(t *testing.T) {
	ingest, store := newTestIngest(t)
	seedOrder(t, store, "OF-1", types.EstadoPausada, timePtr(ingestStart))

	ingest.Increment(context.Background())

	require.Zero(t, store.ActiveCounterCount())
}

// Pulses after a switch of the running order land on the new order (S3).
func TestIncrementFollowsOrderSwitch(t *testing.T) {
	ingest, store := newTestIngest(t)

	a := seedOrder(t, store, "OF-A", types.EstadoEnProceso, timePtr(ingestStart))
	for i := 0; i < 5; i++ {
		ingest.Increment(context.Background())
	}

	// A finishes, B starts later.
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		order, err := tx.OrderByID(context.Background(), a)
		if err != nil {
			return err
		}
		order.Estado = types.EstadoFinalizada
		return tx.UpdateOrder(context.Background(), order)
	})
	require.NoError(t, err)

	b := seedOrder(t, store, "OF-B", types.EstadoEnProceso, timePtr(ingestStart.Add(time.Hour)))
	for i := 0; i < 3; i++ {
		ingest.Increment(context.Background())
	}

	require.Equal(t, 5, counterOf(t, store, a).Quantity)
	require.Equal(t, 3, counterOf(t, store, b).Quantity)
}

func TestActivateIsExclusive(t *testing.T) {
	_, store := newTestIngest(t)
	ctx := context.Background()

	a := seedOrder(t, store, "OF-A", types.EstadoFinalizada, timePtr(ingestStart))
	b := seedOrder(t, store, "OF-B", types.EstadoEnProceso, timePtr(ingestStart))

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return ActivateTx(ctx, tx, a, ingestStart)
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.ActiveCounterCount())

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return ActivateTx(ctx, tx, b, ingestStart)
	})
	require.NoError(t, err)

	require.Equal(t, 1, store.ActiveCounterCount())
	require.False(t, counterOf(t, store, a).IsActive)
	require.True(t, counterOf(t, store, b).IsActive)
}

func TestDeactivateMissingCounterIsNoop(t *testing.T) {
	_, store := newTestIngest(t)
	ctx := context.Background()

	id := seedOrder(t, store, "OF-A", types.EstadoFinalizada, timePtr(ingestStart))
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return DeactivateTx(ctx, tx, id, ingestStart)
	})
	require.NoError(t, err)
}

func TestResetClearsQuantity(t *testing.T) {
	ingest, store := newTestIngest(t)
	id := seedOrder(t, store, "OF-1", types.EstadoEnProceso, timePtr(ingestStart))

	ingest.Increment(context.Background())
	ingest.Increment(context.Background())
	require.Equal(t, 2, counterOf(t, store, id).Quantity)

	_, err := ingest.Reset(context.Background(), id)
	require.NoError(t, err)

	c := counterOf(t, store, id)
	require.Zero(t, c.Quantity)
	require.Nil(t, c.LastBottleCountedAt)
}

func TestResetUnknownCounter(t *testing.T) {
	ingest, store := newTestIngest(t)
	id := seedOrder(t, store, "OF-1", types.EstadoCreada, nil)

	_, err := ingest.Reset(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}
