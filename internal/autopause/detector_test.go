package autopause

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rnp/cremer-mes/internal/engine"
	"github.com/rnp/cremer-mes/internal/gpio"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/storage/storagetest"
	"github.com/rnp/cremer-mes/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	pinPonderal = 22
	pinEtiqueta = 19
)

var detectorStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

// fakePins is a settable pin cache.
type fakePins struct {
	mu     sync.Mutex
	states map[int]int
}

func newFakePins() *fakePins {
	return &fakePins{states: map[int]int{pinPonderal: 1, pinEtiqueta: 1}}
}

func (p *fakePins) set(pin, value int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[pin] = value
}

func (p *fakePins) PinState(pin int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.states[pin]
	return v, ok
}

func (p *fakePins) Initialized() bool { return true }

// fakeControl opens and closes pauses against the memory store so the
// detector's reconciliation sees real rows.
type fakeControl struct {
	store *storagetest.MemoryStore

	mu      sync.Mutex
	order   *types.OrderWithExtra
	opened []types.TipoPausa
	closed []int64
}

func (c *fakeControl) setOrder(o *types.OrderWithExtra) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = o
}

func (c *fakeControl) ActiveVisibleOrder(ctx context.Context) (*types.OrderWithExtra, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order, nil
}

func (c *fakeControl) OpenPause(ctx context.Context, idOrder int64, spec types.OpenPauseSpec) (*engine.PauseWithCod, error) {
	pause := &types.Pause{
		IDOrder:    idOrder,
		Tipo:       spec.Tipo,
		Operario:   spec.Operario,
		HoraInicio: detectorStart,
	}
	err := c.store.WithTx(ctx, func(tx storage.Tx) error {
		id, err := tx.InsertPause(ctx, pause)
		pause.IDPausa = id
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.opened = append(c.opened, *spec.Tipo)
	c.mu.Unlock()

	return &engine.PauseWithCod{Pause: *pause}, nil
}

func (c *fakeControl) ClosePause(ctx context.Context, idOrder, idPausa int64, spec types.ClosePauseSpec) (*engine.PauseWithCod, error) {
	var pause *types.Pause
	err := c.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		pause, err = tx.PauseByID(ctx, idPausa)
		if err != nil || pause == nil {
			return err
		}
		fin := detectorStart.Add(time.Minute)
		total := 1.0
		pause.HoraFin = &fin
		pause.TiempoTotalPausa = &total
		return tx.UpdatePause(ctx, pause)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.closed = append(c.closed, idPausa)
	c.mu.Unlock()

	return &engine.PauseWithCod{Pause: *pause}, nil
}

func (c *fakeControl) openedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.opened)
}

func (c *fakeControl) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closed)
}

func enProcesoOrder() *types.OrderWithExtra {
	started := detectorStart
	return &types.OrderWithExtra{Order: types.Order{
		IDOrder:    1,
		CodOrder:   "OF-1",
		Estado:     types.EstadoEnProceso,
		HoraInicio: &started,
	}}
}

func newTestDetector(t *testing.T) (*Detector, *fakeControl, *fakePins) {
	t.Helper()

	store := storagetest.New()
	control := &fakeControl{store: store, order: enProcesoOrder()}
	pins := newFakePins()

	d := New(control, store, pins, pinPonderal, pinEtiqueta, Config{
		OpenDelay:         50 * time.Millisecond,
		CloseDelay:        25 * time.Millisecond,
		Cooldown:          80 * time.Millisecond,
		ReconcileInterval: 15 * time.Millisecond,
		ObserverInterval:  15 * time.Millisecond,
	}, zap.NewNop())

	t.Cleanup(d.Stop)
	return d, control, pins
}

func fail(d *Detector, pins *fakePins, pin int) {
	pins.set(pin, 0)
	d.onPinEvent(gpio.PinEvent{Pin: pin, Previous: 1, Value: 0})
}

func restore(d *Detector, pins *fakePins, pin int) {
	pins.set(pin, 1)
	d.onPinEvent(gpio.PinEvent{Pin: pin, Previous: 0, Value: 1})
}

// A fault shorter than the open delay never opens a pause (S4, first leg).
func TestShortFaultDoesNotOpen(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(20 * time.Millisecond)
	restore(d, pins, pinPonderal)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, control.openedCount())
	require.False(t, d.HasOutstanding())
}

// A fault held past the open delay opens exactly one pause with the tipo of
// the originating pin (S4, second leg).
func TestSustainedFaultOpensPause(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, control.openedCount())
	require.Equal(t, types.TipoAveriaPonderal, control.opened[0])
	require.True(t, d.HasOutstanding())
}

// Recovery held past the close delay closes the pause and starts cooldown.
func TestRecoveryClosesPause(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)
	require.True(t, d.HasOutstanding())

	restore(d, pins, pinPonderal)
	time.Sleep(60 * time.Millisecond)

	require.Equal(t, 1, control.closedCount())
	require.False(t, d.HasOutstanding())
	require.True(t, d.InCooldown())
}

// A recovery glitch shorter than the close delay keeps the pause open.
func TestRecoveryGlitchKeepsPauseOpen(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)

	restore(d, pins, pinPonderal)
	time.Sleep(5 * time.Millisecond)
	fail(d, pins, pinPonderal)

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, control.closedCount())
	require.True(t, d.HasOutstanding())
}

// Only one auto-pause may be outstanding across both pins.
func TestMutualExclusionAcrossPins(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, control.openedCount())

	fail(d, pins, pinEtiqueta)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, control.openedCount())
}

// While one pin has a pending open timer the other pin cannot arm one.
func TestSingleOpenTimerAcrossPins(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(10 * time.Millisecond)
	fail(d, pins, pinEtiqueta)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, control.openedCount())
	require.Equal(t, types.TipoAveriaPonderal, control.opened[0])
}

// During cooldown no new pause opens; after expiry a still-faulted pin
// re-arms and opens.
func TestCooldownBlocksThenRearms(t *testing.T) {
	d, control, pins := newTestDetector(t)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)
	restore(d, pins, pinPonderal)
	time.Sleep(60 * time.Millisecond)
	require.True(t, d.InCooldown())

	fail(d, pins, pinPonderal)
	time.Sleep(30 * time.Millisecond) // still in cooldown
	require.Equal(t, 1, control.openedCount())

	// Cooldown expires; the pin is still low, so a new cycle opens.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 2, control.openedCount())
}

// No order EN_PROCESO: faults are ignored.
func TestNoOrderNoPause(t *testing.T) {
	d, control, pins := newTestDetector(t)
	control.setOrder(nil)

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)

	require.Zero(t, control.openedCount())
}

// A manual close through the pause engine is reconciled: the detector clears
// its state and enters cooldown instead of staying wedged.
func TestManualCloseReconciled(t *testing.T) {
	d, control, pins := newTestDetector(t)
	d.Start()

	fail(d, pins, pinPonderal)
	time.Sleep(100 * time.Millisecond)
	require.True(t, d.HasOutstanding())

	// Operator closes the pause directly.
	d.mu.Lock()
	idPausa := d.active.idPausa
	d.mu.Unlock()

	err := control.store.WithTx(context.Background(), func(tx storage.Tx) error {
		pause, err := tx.PauseByID(context.Background(), idPausa)
		if err != nil {
			return err
		}
		fin := detectorStart.Add(time.Minute)
		pause.HoraFin = &fin
		return tx.UpdatePause(context.Background(), pause)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !d.HasOutstanding() && d.InCooldown()
	}, time.Second, 10*time.Millisecond)

	require.Zero(t, control.closedCount())
}

func TestStopIsIdempotent(t *testing.T) {
	d, _, _ := newTestDetector(t)
	d.Start()
	d.Stop()
	d.Stop()
}
