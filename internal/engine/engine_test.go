package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/storage/storagetest"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// fakeClock lets tests move time explicitly.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *storagetest.MemoryStore, *fakeClock) {
	t.Helper()

	store := storagetest.New()
	clock := newFakeClock(testStart)
	bus := events.NewBus(zap.NewNop(), time.UTC)

	e := New(store, bus, zap.NewNop(), time.UTC)
	e.clock = clock.Now
	return e, store, clock
}

func baseSpec(cod string) types.CreateOrderSpec {
	uds := 500
	return types.CreateOrderSpec{
		CodOrder:      cod,
		Operario:      "A",
		Lote:          "L1",
		Articulo:      "X",
		Cantidad:      1000,
		BotesCaja:     10,
		StdReferencia: 20.0,
		FormatoBote:   "500ml",
		Tipo:          "Conserva",
		UdsBote:       &uds,
	}
}

func tipoPtr(t types.TipoPausa) *types.TipoPausa { return &t }
