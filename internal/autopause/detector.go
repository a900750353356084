package autopause

import (
	"context"
	"sync"
	"time"

	"github.com/rnp/cremer-mes/internal/engine"
	"github.com/rnp/cremer-mes/internal/gpio"
	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/telemetry"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// OperarioAutomatico labels pauses opened and closed by the detector.
const OperarioAutomatico = "SISTEMA AUTOMATICO"

// Control is the slice of the pause engine the detector drives. Satisfied by
// *engine.Engine.
type Control interface {
	OpenPause(ctx context.Context, idOrder int64, spec types.OpenPauseSpec) (*engine.PauseWithCod, error)
	ClosePause(ctx context.Context, idOrder, idPausa int64, spec types.ClosePauseSpec) (*engine.PauseWithCod, error)
	ActiveVisibleOrder(ctx context.Context) (*types.OrderWithExtra, error)
}

// PinReader exposes the GPIO link's per-pin snapshot reads.
type PinReader interface {
	PinState(pin int) (int, bool)
	Initialized() bool
}

// Config carries the fixed detector timing.
type Config struct {
	OpenDelay         time.Duration // level 0 held this long opens a pause
	CloseDelay        time.Duration // level 1 held this long closes it
	Cooldown          time.Duration // no auto-open after any close
	ReconcileInterval time.Duration // poll for manual closes
	ObserverInterval  time.Duration // re-arm after the order resumes
}

// outstanding tracks the single auto-pause the detector may have open.
type outstanding struct {
	pin     int
	idOrder int64
	idPausa int64
	tipo    types.TipoPausa
}

// Detector debounces the ponderal and etiqueta fault signals into automatic
// pauses. At most one auto-pause is outstanding across both pins; after any
// close (automatic or reconciled manual) a cooldown blocks new opens.
type Detector struct {
	control     Control
	store       storage.Store
	pins        PinReader
	logger      *zap.Logger
	cfg         Config
	ponderalPin int
	etiquetaPin int
	clock       func() time.Time

	mu            sync.Mutex
	openSeq       map[int]uint64
	closeSeq      map[int]uint64
	openTimers    map[int]*time.Timer
	closeTimers   map[int]*time.Timer
	active        *outstanding
	inCooldown    bool
	cooldownSeq   uint64
	cooldownTimer *time.Timer
	lastEnProceso bool
	seq           uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(control Control, store storage.Store, pins PinReader, ponderalPin, etiquetaPin int, cfg Config, logger *zap.Logger) *Detector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Detector{
		control:     control,
		store:       store,
		pins:        pins,
		logger:      logger,
		cfg:         cfg,
		ponderalPin: ponderalPin,
		etiquetaPin: etiquetaPin,
		clock:       time.Now,
		openSeq:     make(map[int]uint64),
		closeSeq:    make(map[int]uint64),
		openTimers:  make(map[int]*time.Timer),
		closeTimers: make(map[int]*time.Timer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Attach subscribes the detector to both fault pins.
func (d *Detector) Attach(link *gpio.Link) {
	for _, pin := range []int{d.ponderalPin, d.etiquetaPin} {
		link.Subscribe(pin, func(ev gpio.PinEvent) {
			d.onPinEvent(ev)
		})
	}
}

// Start launches the reconciliation and order-state watchdogs.
func (d *Detector) Start() {
	d.wg.Add(2)
	go d.reconcileLoop()
	go d.observerLoop()

	d.logger.Info("detector de pausas automáticas iniciado",
		zap.Int("pin_ponderal", d.ponderalPin),
		zap.Int("pin_etiqueta", d.etiquetaPin),
		zap.Duration("open_delay", d.cfg.OpenDelay),
		zap.Duration("close_delay", d.cfg.CloseDelay),
		zap.Duration("cooldown", d.cfg.Cooldown))
}

// Stop cancels every timer and both watchdogs. Idempotent.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()

		d.mu.Lock()
		for pin := range d.openTimers {
			d.cancelOpenTimerLocked(pin)
		}
		for pin := range d.closeTimers {
			d.cancelCloseTimerLocked(pin)
		}
		if d.cooldownTimer != nil {
			d.cooldownTimer.Stop()
			d.cooldownTimer = nil
			d.cooldownSeq = 0
		}
		d.mu.Unlock()

		d.wg.Wait()
		d.logger.Info("detector de pausas automáticas detenido")
	})
}

// HasOutstanding reports whether an auto-pause is currently open.
func (d *Detector) HasOutstanding() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

// InCooldown reports whether new auto-opens are blocked.
func (d *Detector) InCooldown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inCooldown
}

func (d *Detector) tipoForPin(pin int) types.TipoPausa {
	if pin == d.ponderalPin {
		return types.TipoAveriaPonderal
	}
	return types.TipoAveriaEtiqueta
}

func (d *Detector) signalName(pin int) string {
	if pin == d.ponderalPin {
		return "ponderal"
	}
	return "etiqueta"
}

// ---------------------------------------------------------------------------
// Pin transitions

func (d *Detector) onPinEvent(ev gpio.PinEvent) {
	if ev.Value == 0 {
		d.onSignalFailed(ev.Pin)
	} else {
		d.onSignalRecovered(ev.Pin)
	}
}

// onSignalFailed handles a 1→0 transition: the close timer of the pin is
// cancelled and, if the global start conditions hold, an open timer starts.
func (d *Detector) onSignalFailed(pin int) {
	d.logger.Info("señal en FALLO", zap.String("señal", d.signalName(pin)), zap.Int("pin", pin))

	d.mu.Lock()
	d.cancelCloseTimerLocked(pin)
	blocked := d.active != nil || d.inCooldown || d.otherOpenTimerLocked(pin)
	d.mu.Unlock()

	if blocked {
		d.logger.Debug("no se arma timer de apertura: pausa activa, cooldown o timer ajeno",
			zap.Int("pin", pin))
		return
	}

	if !d.orderEnProceso() {
		d.logger.Debug("orden no está EN_PROCESO, señal ignorada", zap.Int("pin", pin))
		return
	}

	d.mu.Lock()
	if d.active == nil && !d.inCooldown && !d.otherOpenTimerLocked(pin) {
		d.scheduleOpenTimerLocked(pin)
	}
	d.mu.Unlock()
}

// onSignalRecovered handles a 0→1 transition: the open timer of the pin is
// cancelled and, if the outstanding pause is this pin's, a close timer starts.
func (d *Detector) onSignalRecovered(pin int) {
	d.logger.Info("señal OK", zap.String("señal", d.signalName(pin)), zap.Int("pin", pin))

	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelOpenTimerLocked(pin)

	if d.active != nil && d.active.pin == pin {
		d.scheduleCloseTimerLocked(pin)
	}
}

// otherOpenTimerLocked reports whether another pin already has an open timer.
func (d *Detector) otherOpenTimerLocked(pin int) bool {
	for p := range d.openTimers {
		if p != pin {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Timers

func (d *Detector) scheduleOpenTimerLocked(pin int) {
	d.cancelOpenTimerLocked(pin)

	d.seq++
	seq := d.seq
	d.openSeq[pin] = seq
	d.openTimers[pin] = time.AfterFunc(d.cfg.OpenDelay, func() {
		d.openTimerFired(pin, seq)
	})

	d.logger.Info("timer de apertura armado",
		zap.Int("pin", pin),
		zap.Duration("delay", d.cfg.OpenDelay))
}

func (d *Detector) cancelOpenTimerLocked(pin int) {
	if t, ok := d.openTimers[pin]; ok {
		t.Stop()
		delete(d.openTimers, pin)
		delete(d.openSeq, pin)
	}
}

func (d *Detector) scheduleCloseTimerLocked(pin int) {
	d.cancelCloseTimerLocked(pin)

	d.seq++
	seq := d.seq
	d.closeSeq[pin] = seq
	d.closeTimers[pin] = time.AfterFunc(d.cfg.CloseDelay, func() {
		d.closeTimerFired(pin, seq)
	})

	d.logger.Info("timer de cierre armado",
		zap.Int("pin", pin),
		zap.Duration("delay", d.cfg.CloseDelay))
}

func (d *Detector) cancelCloseTimerLocked(pin int) {
	if t, ok := d.closeTimers[pin]; ok {
		t.Stop()
		delete(d.closeTimers, pin)
		delete(d.closeSeq, pin)
	}
}

// openTimerFired re-checks every condition before opening: the timer may
// have been cancelled (seq mismatch), the pin recovered, a pause opened or a
// cooldown started while it was pending.
func (d *Detector) openTimerFired(pin int, seq uint64) {
	d.mu.Lock()
	if d.openSeq[pin] != seq {
		d.mu.Unlock()
		return
	}
	delete(d.openTimers, pin)
	delete(d.openSeq, pin)

	if d.active != nil || d.inCooldown {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if v, ok := d.pins.PinState(pin); !ok || v != 0 {
		d.logger.Info("el pin ya no está en fallo, apertura cancelada", zap.Int("pin", pin))
		return
	}

	d.openAutomaticPause(pin)
}

func (d *Detector) openAutomaticPause(pin int) {
	tipo := d.tipoForPin(pin)

	order, err := d.control.ActiveVisibleOrder(d.ctx)
	if err != nil {
		d.logger.Error("no se pudo obtener la orden activa", zap.Error(err))
		return
	}
	if order == nil || order.Estado != types.EstadoEnProceso {
		d.logger.Warn("sin orden EN_PROCESO, pausa automática no creada",
			zap.String("señal", d.signalName(pin)))
		return
	}

	opened, err := d.control.OpenPause(d.ctx, order.IDOrder, types.OpenPauseSpec{
		Tipo:        &tipo,
		Descripcion: "Pausa automática detectada por señal " + d.signalName(pin),
		Operario:    OperarioAutomatico,
	})
	if err != nil {
		d.logger.Error("error al crear pausa automática",
			zap.String("señal", d.signalName(pin)),
			zap.Error(err))
		d.clearAndCooldown()
		return
	}

	d.mu.Lock()
	d.active = &outstanding{pin: pin, idOrder: opened.IDOrder, idPausa: opened.IDPausa, tipo: tipo}
	d.mu.Unlock()

	telemetry.AutoPauses.WithLabelValues("open", d.signalName(pin)).Inc()
	d.logger.Info("pausa automática creada",
		zap.Int64("id_pausa", opened.IDPausa),
		zap.Int64("id_order", opened.IDOrder),
		zap.String("tipo", string(tipo)))
}

// closeTimerFired re-checks that the pin is still OK and that the pause is
// still ours to close; a manual close in the meantime only triggers cleanup.
func (d *Detector) closeTimerFired(pin int, seq uint64) {
	d.mu.Lock()
	if d.closeSeq[pin] != seq {
		d.mu.Unlock()
		return
	}
	delete(d.closeTimers, pin)
	delete(d.closeSeq, pin)

	current := d.active
	d.mu.Unlock()

	if current == nil || current.pin != pin {
		return
	}

	if v, ok := d.pins.PinState(pin); !ok || v != 1 {
		d.logger.Info("el pin volvió a fallo, cierre cancelado", zap.Int("pin", pin))
		return
	}

	d.closeAutomaticPause(current)
}

func (d *Detector) closeAutomaticPause(current *outstanding) {
	closedByOther, err := d.pauseAlreadyClosed(current.idPausa)
	if err != nil {
		d.logger.Error("no se pudo verificar la pausa automática", zap.Error(err))
		d.clearAndCooldown()
		return
	}
	if closedByOther {
		d.logger.Info("la pausa automática ya fue finalizada manualmente",
			zap.Int64("id_pausa", current.idPausa))
		d.clearAndCooldown()
		return
	}

	_, err = d.control.ClosePause(d.ctx, current.idOrder, current.idPausa, types.ClosePauseSpec{
		Descripcion: "Finalizada automáticamente - señal " + d.signalName(current.pin) + " recuperada",
		Operario:    OperarioAutomatico,
	})
	if err != nil {
		d.logger.Error("error al finalizar pausa automática",
			zap.Int64("id_pausa", current.idPausa),
			zap.Error(err))
	} else {
		telemetry.AutoPauses.WithLabelValues("close", d.signalName(current.pin)).Inc()
		d.logger.Info("pausa automática finalizada",
			zap.Int64("id_pausa", current.idPausa))
	}

	d.clearAndCooldown()
}

// pauseAlreadyClosed checks the store for a horaFin written by someone else.
func (d *Detector) pauseAlreadyClosed(idPausa int64) (bool, error) {
	closed := false
	err := d.store.WithTx(d.ctx, func(tx storage.Tx) error {
		pause, err := tx.PauseByID(d.ctx, idPausa)
		if err != nil {
			return err
		}
		closed = pause == nil || !pause.Open()
		return nil
	})
	return closed, err
}

// ---------------------------------------------------------------------------
// Cooldown

// clearAndCooldown drops all detector state and blocks auto-opens for the
// configured cooldown. Never leaves a half-open auto-pause behind.
func (d *Detector) clearAndCooldown() {
	d.mu.Lock()
	if d.active != nil {
		d.cancelCloseTimerLocked(d.active.pin)
	}
	d.active = nil
	d.inCooldown = true

	if d.cooldownTimer != nil {
		d.cooldownTimer.Stop()
	}
	d.seq++
	seq := d.seq
	d.cooldownSeq = seq
	d.cooldownTimer = time.AfterFunc(d.cfg.Cooldown, func() {
		d.cooldownExpired(seq)
	})
	d.mu.Unlock()

	d.logger.Info("cooldown iniciado", zap.Duration("cooldown", d.cfg.Cooldown))
}

func (d *Detector) cooldownExpired(seq uint64) {
	d.mu.Lock()
	if d.cooldownSeq != seq {
		d.mu.Unlock()
		return
	}
	d.inCooldown = false
	d.cooldownTimer = nil
	d.mu.Unlock()

	d.logger.Info("cooldown finalizado")
	d.rearmFromPinStates()
}

// rearmFromPinStates arms an open timer for the first pin currently at fault.
func (d *Detector) rearmFromPinStates() {
	if !d.orderEnProceso() {
		return
	}

	for _, pin := range []int{d.ponderalPin, d.etiquetaPin} {
		v, ok := d.pins.PinState(pin)
		if !ok || v != 0 {
			continue
		}

		d.mu.Lock()
		if d.active == nil && !d.inCooldown && !d.otherOpenTimerLocked(pin) {
			d.logger.Info("pin en fallo tras re-evaluación, timer armado", zap.Int("pin", pin))
			d.scheduleOpenTimerLocked(pin)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Watchdogs

// reconcileLoop polls the outstanding pause so a manual close through the
// pause engine cleans the detector state instead of leaving it wedged.
func (d *Detector) reconcileLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.reconcileOutstanding()
		}
	}
}

func (d *Detector) reconcileOutstanding() {
	d.mu.Lock()
	current := d.active
	d.mu.Unlock()

	if current == nil {
		return
	}

	closed, err := d.pauseAlreadyClosed(current.idPausa)
	if err != nil {
		d.logger.Error("error al verificar estado de pausa activa", zap.Error(err))
		return
	}
	if closed {
		d.logger.Info("pausa automática finalizada manualmente, limpiando estado",
			zap.Int64("id_pausa", current.idPausa))
		d.clearAndCooldown()
	}
}

// observerLoop watches for the order returning to EN_PROCESO after a manual
// pause so a pin stuck at fault re-arms detection.
func (d *Detector) observerLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.ObserverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.observeOrderState()
		}
	}
}

func (d *Detector) observeOrderState() {
	d.mu.Lock()
	busy := d.active != nil || d.inCooldown
	d.mu.Unlock()

	if busy || !d.pins.Initialized() {
		return
	}

	current := d.orderEnProceso()

	d.mu.Lock()
	was := d.lastEnProceso
	d.lastEnProceso = current
	d.mu.Unlock()

	if current && !was {
		d.logger.Info("orden volvió a EN_PROCESO, re-evaluando señales")
		d.rearmFromPinStates()
	}
}

func (d *Detector) orderEnProceso() bool {
	order, err := d.control.ActiveVisibleOrder(d.ctx)
	if err != nil {
		d.logger.Error("no se pudo consultar la orden activa", zap.Error(err))
		return false
	}
	return order != nil && order.Estado == types.EstadoEnProceso
}
