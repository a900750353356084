// Package storagetest provides an in-memory Store for engine-level tests.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rnp/cremer-mes/internal/storage"
	"github.com/rnp/cremer-mes/internal/types"
)

// MemoryStore is a transactional in-memory Store. Transactions are fully
// serialized; a failed transaction restores the pre-transaction state.
type MemoryStore struct {
	mu sync.Mutex
	st state
}

type state struct {
	orders   map[int64]types.Order
	extra    map[int64]types.ExtraData
	pauses   map[int64]types.Pause
	metricas map[int64]types.Metricas
	acumula  map[int64]types.Acumula
	counters map[int64]types.BottleCounter
	audits   []types.OrderDeleteAudit

	orderSeq, pauseSeq, acumulaSeq, counterSeq, auditSeq int64
}

func New() *MemoryStore {
	return &MemoryStore{st: state{
		orders:   make(map[int64]types.Order),
		extra:    make(map[int64]types.ExtraData),
		pauses:   make(map[int64]types.Pause),
		metricas: make(map[int64]types.Metricas),
		acumula:  make(map[int64]types.Acumula),
		counters: make(map[int64]types.BottleCounter),
	}}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.st.clone()
	if err := fn(&memTx{st: &s.st}); err != nil {
		s.st = backup
		return err
	}
	return nil
}

func (st state) clone() state {
	out := state{
		orders:     make(map[int64]types.Order, len(st.orders)),
		extra:      make(map[int64]types.ExtraData, len(st.extra)),
		pauses:     make(map[int64]types.Pause, len(st.pauses)),
		metricas:   make(map[int64]types.Metricas, len(st.metricas)),
		acumula:    make(map[int64]types.Acumula, len(st.acumula)),
		counters:   make(map[int64]types.BottleCounter, len(st.counters)),
		audits:     append([]types.OrderDeleteAudit(nil), st.audits...),
		orderSeq:   st.orderSeq,
		pauseSeq:   st.pauseSeq,
		acumulaSeq: st.acumulaSeq,
		counterSeq: st.counterSeq,
		auditSeq:   st.auditSeq,
	}
	for k, v := range st.orders {
		out.orders[k] = v
	}
	for k, v := range st.extra {
		out.extra[k] = v
	}
	for k, v := range st.pauses {
		out.pauses[k] = v
	}
	for k, v := range st.metricas {
		out.metricas[k] = v
	}
	for k, v := range st.acumula {
		out.acumula[k] = v
	}
	for k, v := range st.counters {
		out.counters[k] = v
	}
	return out
}

type memTx struct {
	st *state
}

// --- Orders ---

func (t *memTx) OrderByID(ctx context.Context, id int64) (*types.Order, error) {
	if o, ok := t.st.orders[id]; ok {
		out := o
		return &out, nil
	}
	return nil, nil
}

func (t *memTx) OrderByCod(ctx context.Context, codOrder string) (*types.Order, error) {
	for _, o := range t.st.orders {
		if o.CodOrder == codOrder {
			out := o
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) OrderExistsByCod(ctx context.Context, codOrder string) (bool, error) {
	o, _ := t.OrderByCod(ctx, codOrder)
	return o != nil, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *types.Order) (int64, error) {
	t.st.orderSeq++
	o.IDOrder = t.st.orderSeq
	t.st.orders[o.IDOrder] = *o
	return o.IDOrder, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *types.Order) error {
	t.st.orders[o.IDOrder] = *o
	return nil
}

func (t *memTx) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	out := make([]types.Order, 0)
	for _, o := range t.st.orders {
		if filter.Estado != "" && o.Estado != filter.Estado {
			continue
		}
		if filter.Operario != "" && !strings.Contains(strings.ToLower(o.Operario), strings.ToLower(filter.Operario)) {
			continue
		}
		if filter.Lote != "" && !strings.Contains(strings.ToLower(o.Lote), strings.ToLower(filter.Lote)) {
			continue
		}
		if filter.Articulo != "" && !strings.Contains(strings.ToLower(o.Articulo), strings.ToLower(filter.Articulo)) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HoraCreacion.After(out[j].HoraCreacion)
	})
	return out, nil
}

func (t *memTx) OrdersByEstado(ctx context.Context, estados ...types.EstadoOrder) ([]types.Order, error) {
	want := make(map[types.EstadoOrder]bool, len(estados))
	for _, e := range estados {
		want[e] = true
	}

	out := make([]types.Order, 0)
	for _, o := range t.st.orders {
		if want[o.Estado] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].HoraInicio, out[j].HoraInicio
		switch {
		case hi == nil:
			return false
		case hj == nil:
			return true
		default:
			return hi.After(*hj)
		}
	})
	return out, nil
}

func (t *memTx) CountOrdersByEstado(ctx context.Context) (map[types.EstadoOrder]int64, error) {
	counts := make(map[types.EstadoOrder]int64)
	for _, o := range t.st.orders {
		counts[o.Estado]++
	}
	return counts, nil
}

func (t *memTx) DeleteOrderCascade(ctx context.Context, id int64) error {
	for pid, p := range t.st.pauses {
		if p.IDOrder == id {
			delete(t.st.pauses, pid)
		}
	}
	delete(t.st.metricas, id)
	for aid, a := range t.st.acumula {
		if a.IDOrder == id {
			delete(t.st.acumula, aid)
		}
	}
	delete(t.st.extra, id)
	for cid, c := range t.st.counters {
		if c.IDOrder == id {
			delete(t.st.counters, cid)
		}
	}
	delete(t.st.orders, id)
	return nil
}

// --- ExtraData ---

func (t *memTx) InsertExtraData(ctx context.Context, e *types.ExtraData) error {
	t.st.extra[e.IDOrder] = *e
	return nil
}

func (t *memTx) ExtraDataByOrder(ctx context.Context, idOrder int64) (*types.ExtraData, error) {
	if e, ok := t.st.extra[idOrder]; ok {
		out := e
		return &out, nil
	}
	return nil, nil
}

// --- Pauses ---

func (t *memTx) InsertPause(ctx context.Context, p *types.Pause) (int64, error) {
	t.st.pauseSeq++
	p.IDPausa = t.st.pauseSeq
	t.st.pauses[p.IDPausa] = *p
	return p.IDPausa, nil
}

func (t *memTx) UpdatePause(ctx context.Context, p *types.Pause) error {
	t.st.pauses[p.IDPausa] = *p
	return nil
}

func (t *memTx) PauseByID(ctx context.Context, idPausa int64) (*types.Pause, error) {
	if p, ok := t.st.pauses[idPausa]; ok {
		out := p
		return &out, nil
	}
	return nil, nil
}

func (t *memTx) ActivePauseByOrder(ctx context.Context, idOrder int64) (*types.Pause, error) {
	for _, p := range t.st.pauses {
		if p.IDOrder == idOrder && p.HoraFin == nil {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) PausesByOrder(ctx context.Context, idOrder int64) ([]types.Pause, error) {
	out := make([]types.Pause, 0)
	for _, p := range t.st.pauses {
		if p.IDOrder == idOrder {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HoraInicio.After(out[j].HoraInicio)
	})
	return out, nil
}

func (t *memTx) SumClosedPauseMinutes(ctx context.Context, idOrder int64, computa bool) (float64, error) {
	var total float64
	for _, p := range t.st.pauses {
		if p.IDOrder != idOrder || p.HoraFin == nil || p.Computa == nil || *p.Computa != computa {
			continue
		}
		if p.TiempoTotalPausa != nil {
			total += *p.TiempoTotalPausa
		}
	}
	return total, nil
}

func (t *memTx) ActivePausesExcludingTipo(ctx context.Context, tipo types.TipoPausa) ([]types.Pause, error) {
	out := make([]types.Pause, 0)
	for _, p := range t.st.pauses {
		if p.HoraFin != nil {
			continue
		}
		if p.Tipo != nil && *p.Tipo == tipo {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HoraInicio.After(out[j].HoraInicio)
	})
	return out, nil
}

func (t *memTx) OrderIDsWithActivePauseTipo(ctx context.Context, tipo types.TipoPausa) ([]int64, error) {
	out := make([]int64, 0)
	for _, p := range t.st.pauses {
		if p.HoraFin == nil && p.Tipo != nil && *p.Tipo == tipo {
			out = append(out, p.IDOrder)
		}
	}
	return out, nil
}

// --- Metricas ---

func (t *memTx) MetricasByOrder(ctx context.Context, idOrder int64) (*types.Metricas, error) {
	if m, ok := t.st.metricas[idOrder]; ok {
		out := m
		return &out, nil
	}
	return nil, nil
}

func (t *memTx) InsertMetricas(ctx context.Context, m *types.Metricas) error {
	t.st.metricas[m.IDOrder] = *m
	return nil
}

func (t *memTx) DeleteMetricas(ctx context.Context, idOrder int64) error {
	delete(t.st.metricas, idOrder)
	return nil
}

// --- Acumula ---

func (t *memTx) InsertAcumula(ctx context.Context, a *types.Acumula) (int64, error) {
	t.st.acumulaSeq++
	a.IDAcumula = t.st.acumulaSeq
	t.st.acumula[a.IDAcumula] = *a
	return a.IDAcumula, nil
}

func (t *memTx) UpdateAcumula(ctx context.Context, a *types.Acumula) error {
	t.st.acumula[a.IDAcumula] = *a
	return nil
}

func (t *memTx) AcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error) {
	for _, a := range t.st.acumula {
		if a.IDOrder == idOrder {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) OpenAcumulaByOrder(ctx context.Context, idOrder int64) (*types.Acumula, error) {
	for _, a := range t.st.acumula {
		if a.IDOrder == idOrder && a.HoraFin == nil {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

// --- Counters ---

func (t *memTx) CounterByOrder(ctx context.Context, idOrder int64) (*types.BottleCounter, error) {
	for _, c := range t.st.counters {
		if c.IDOrder == idOrder {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) ActiveCounter(ctx context.Context) (*types.BottleCounter, error) {
	for _, c := range t.st.counters {
		if c.IsActive {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertCounter(ctx context.Context, c *types.BottleCounter) (int64, error) {
	t.st.counterSeq++
	c.ID = t.st.counterSeq
	t.st.counters[c.ID] = *c
	return c.ID, nil
}

func (t *memTx) UpdateCounter(ctx context.Context, c *types.BottleCounter) error {
	t.st.counters[c.ID] = *c
	return nil
}

func (t *memTx) DeactivateAllCounters(ctx context.Context) error {
	for id, c := range t.st.counters {
		c.IsActive = false
		t.st.counters[id] = c
	}
	return nil
}

// --- Audit ---

func (t *memTx) InsertDeleteAudit(ctx context.Context, a *types.OrderDeleteAudit) (int64, error) {
	t.st.auditSeq++
	a.IDAudit = t.st.auditSeq
	t.st.audits = append(t.st.audits, *a)
	return a.IDAudit, nil
}

// Audits returns the recorded delete-audit rows.
func (s *MemoryStore) Audits() []types.OrderDeleteAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.OrderDeleteAudit(nil), s.st.audits...)
}

// ActivePauseCount counts open pauses across all orders.
func (s *MemoryStore) ActivePauseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.st.pauses {
		if p.HoraFin == nil {
			n++
		}
	}
	return n
}

// ActiveCounterCount counts counters flagged active.
func (s *MemoryStore) ActiveCounterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.st.counters {
		if c.IsActive {
			n++
		}
	}
	return n
}
