package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rnp/cremer-mes/internal/types"
	"github.com/stretchr/testify/require"
)

const delta = 1e-6

// Happy path: 60 min run, no pauses, 900 good + 100 bad of 1000 requested.
func TestMetricasHappyPath(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(60 * time.Minute)

	_, err = e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{
		BotesBuenos: 900, BotesMalos: 100, TotalCajasCierre: 90,
	})
	require.NoError(t, err)

	m, err := e.MetricasByOrder(ctx, created.IDOrder)
	require.NoError(t, err)
	require.NotNil(t, m)

	require.InDelta(t, 60.0, m.TiempoTotal, delta)
	require.InDelta(t, 0.0, m.TiempoPausado, delta)
	require.InDelta(t, 60.0, m.TiempoActivo, delta)
	require.InDelta(t, 1.0, m.Disponibilidad, delta)
	require.InDelta(t, 1000.0/(60.0*20.0), m.Rendimiento, delta)
	require.InDelta(t, 0.9, m.Calidad, delta)
	require.InDelta(t, 0.75, m.OEE, delta)
	require.InDelta(t, 1000.0/60.0, m.StdReal, delta)
	require.InDelta(t, 0.9, m.PorCumpPedido, delta)
}

// A CAMBIO_TURNO pause does not compute: it shrinks tiempoTotal instead of
// counting as paused time.
func TestMetricasNonComputablePause(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	pause, err := e.OpenPause(ctx, created.IDOrder, types.OpenPauseSpec{
		Tipo: tipoPtr(types.TipoCambioTurno),
	})
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	closed, err := e.ClosePause(ctx, created.IDOrder, pause.IDPausa, types.ClosePauseSpec{})
	require.NoError(t, err)
	require.InDelta(t, 15.0, *closed.TiempoTotalPausa, delta)
	require.False(t, *closed.Computa)

	clock.Advance(35 * time.Minute)
	_, err = e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{
		BotesBuenos: 800, TotalCajasCierre: 80,
	})
	require.NoError(t, err)

	m, err := e.MetricasByOrder(ctx, created.IDOrder)
	require.NoError(t, err)

	require.InDelta(t, 45.0, m.TiempoTotal, delta)
	require.InDelta(t, 0.0, m.TiempoPausado, delta)
	require.InDelta(t, 45.0, m.TiempoActivo, delta)
	require.InDelta(t, 1.0, m.Disponibilidad, delta)
	require.InDelta(t, 800.0/(45.0*20.0), m.Rendimiento, delta)
	require.InDelta(t, 1.0, m.Calidad, delta)
	require.InDelta(t, 800.0/(45.0*20.0), m.OEE, delta)
}

// Finalize while paused: the pause auto-closes with the finalize timestamp
// and a computable tipo counts as tiempoPausado.
func TestFinalizarWhilePaused(t *testing.T) {
	e, store, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = e.OpenPause(ctx, created.IDOrder, types.OpenPauseSpec{
		Tipo: tipoPtr(types.TipoParadaCalidad),
	})
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	finished, err := e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{
		BotesBuenos: 50, TotalCajasCierre: 5, Acumula: true,
	})
	require.NoError(t, err)
	require.Equal(t, types.EstadoEsperaManual, finished.Estado)

	require.Zero(t, store.ActivePauseCount())

	m, err := e.MetricasByOrder(ctx, created.IDOrder)
	require.NoError(t, err)
	require.InDelta(t, 25.0, m.TiempoTotal, delta)
	require.InDelta(t, 15.0, m.TiempoPausado, delta)
	require.InDelta(t, 10.0, m.TiempoActivo, delta)
}

// Recalcular is idempotent: repeating it yields an identical row.
func TestRecalcularMetricasIdempotent(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(42 * time.Minute)
	_, err = e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{
		BotesBuenos: 700, BotesMalos: 10,
	})
	require.NoError(t, err)

	first, err := e.RecalcularMetricas(ctx, created.IDOrder)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := e.RecalcularMetricas(ctx, created.IDOrder)
		require.NoError(t, err)
		require.Equal(t, *first, *again)
	}
}

func TestRecalcularMetricasRequiresClosedOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)

	_, err = e.RecalcularMetricas(ctx, created.IDOrder)
	require.Error(t, err)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

// The simulated variant evaluates with horaFin=now and never persists.
func TestMetricasSimuladasLive(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	sim, err := e.MetricasSimuladas(ctx, created.IDOrder)
	require.NoError(t, err)
	require.InDelta(t, 30.0, sim.TiempoTotal, delta)

	// Nothing was persisted.
	stored, err := e.MetricasByOrder(ctx, created.IDOrder)
	require.NoError(t, err)
	require.Nil(t, stored)
}

// Once stored, the snapshot wins over the live computation.
func TestMetricasSimuladasPrefersStored(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{BotesBuenos: 100})
	require.NoError(t, err)

	stored, err := e.MetricasByOrder(ctx, created.IDOrder)
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	sim, err := e.MetricasSimuladas(ctx, created.IDOrder)
	require.NoError(t, err)
	require.Equal(t, *stored, *sim)
}

// Replaying the same transition sequence produces an identical snapshot.
func TestMetricasDeterministicReplay(t *testing.T) {
	run := func(t *testing.T) types.Metricas {
		e, _, clock := newTestEngine(t)
		ctx := context.Background()

		created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
		require.NoError(t, err)
		_, err = e.Iniciar(ctx, created.IDOrder)
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		p, err := e.OpenPause(ctx, created.IDOrder, types.OpenPauseSpec{
			Tipo: tipoPtr(types.TipoFaltaMaterial),
		})
		require.NoError(t, err)
		clock.Advance(7 * time.Minute)
		_, err = e.ClosePause(ctx, created.IDOrder, p.IDPausa, types.ClosePauseSpec{})
		require.NoError(t, err)

		clock.Advance(18 * time.Minute)
		_, err = e.Finalizar(ctx, created.IDOrder, types.FinishOrderSpec{
			BotesBuenos: 300, BotesMalos: 12,
		})
		require.NoError(t, err)

		m, err := e.MetricasByOrder(ctx, created.IDOrder)
		require.NoError(t, err)
		return *m
	}

	first := run(t)
	second := run(t)
	require.Equal(t, first, second)
}
