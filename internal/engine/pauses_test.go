package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rnp/cremer-mes/internal/types"
	"github.com/stretchr/testify/require"
)

func startedOrder(t *testing.T, e *Engine, cod string) int64 {
	t.Helper()
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec(cod))
	require.NoError(t, err)
	_, err = e.Iniciar(ctx, created.IDOrder)
	require.NoError(t, err)
	return created.IDOrder
}

func TestOpenPauseRequiresEnProceso(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateOrder(ctx, baseSpec("OF-1"))
	require.NoError(t, err)

	_, err = e.OpenPause(ctx, created.IDOrder, types.OpenPauseSpec{})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestOpenPauseRejectsSecondOpen(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	_, err := e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: tipoPtr(types.TipoParada)})
	require.NoError(t, err)

	_, err = e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: tipoPtr(types.TipoParada)})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestOpenPauseDerivesComputa(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{
		Tipo: tipoPtr(types.TipoMantenimiento),
	})
	require.NoError(t, err)
	require.NotNil(t, pause.Computa)
	require.True(t, *pause.Computa)

	order, err := e.OrderByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.EstadoPausada, order.Estado)
}

// Two-phase pause: opened without tipo, the close must supply one.
func TestTwoPhasePauseCompletion(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{})
	require.NoError(t, err)
	require.Nil(t, pause.Tipo)
	require.Nil(t, pause.Computa)

	clock.Advance(time.Minute)

	_, err = e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidInput, types.KindOf(err))

	closed, err := e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{
		Tipo: tipoPtr(types.TipoFaltaMaterial),
	})
	require.NoError(t, err)
	require.Equal(t, types.TipoFaltaMaterial, *closed.Tipo)
	require.True(t, *closed.Computa)
	require.InDelta(t, 1.0, *closed.TiempoTotalPausa, 1e-6)

	order, err := e.OrderByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.EstadoEnProceso, order.Estado)
}

func TestClosePauseReplacesTipo(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{
		Tipo: tipoPtr(types.TipoParada),
	})
	require.NoError(t, err)
	require.False(t, *pause.Computa)

	closed, err := e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{
		Tipo: tipoPtr(types.TipoParadaCalidad),
	})
	require.NoError(t, err)
	require.Equal(t, types.TipoParadaCalidad, *closed.Tipo)
	require.True(t, *closed.Computa)
}

func TestClosePauseConcatenatesDescriptions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{
		Tipo:        tipoPtr(types.TipoLimpieza),
		Descripcion: "limpieza de línea",
	})
	require.NoError(t, err)

	closed, err := e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{
		Descripcion: "terminada por turno de tarde",
	})
	require.NoError(t, err)
	require.Equal(t, "limpieza de línea | terminada por turno de tarde", closed.Descripcion)
}

func TestClosePauseAlreadyClosed(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: tipoPtr(types.TipoParada)})
	require.NoError(t, err)

	_, err = e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{})
	require.NoError(t, err)

	_, err = e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestClosePauseWrongOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	other, err := e.CreateOrder(ctx, baseSpec("OF-2"))
	require.NoError(t, err)

	pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: tipoPtr(types.TipoParada)})
	require.NoError(t, err)

	_, err = e.ClosePause(ctx, other.IDOrder, pause.IDPausa, types.ClosePauseSpec{})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidInput, types.KindOf(err))
}

func TestOpenPauseUnknownTipo(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	bogus := types.TipoPausa("SIESTA")
	_, err := e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: &bogus})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidInput, types.KindOf(err))
}

func TestFinalizarRefusesUntypedOpenPause(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	_, err := e.OpenPause(ctx, id, types.OpenPauseSpec{})
	require.NoError(t, err)

	_, err = e.Finalizar(ctx, id, types.FinishOrderSpec{BotesBuenos: 10})
	require.Error(t, err)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestAtMostOneOpenPausePerOrder(t *testing.T) {
	e, store, clock := newTestEngine(t)
	ctx := context.Background()
	id := startedOrder(t, e, "OF-1")

	for i := 0; i < 5; i++ {
		pause, err := e.OpenPause(ctx, id, types.OpenPauseSpec{Tipo: tipoPtr(types.TipoParada)})
		require.NoError(t, err)
		require.Equal(t, 1, store.ActivePauseCount())

		clock.Advance(time.Minute)
		_, err = e.ClosePause(ctx, id, pause.IDPausa, types.ClosePauseSpec{})
		require.NoError(t, err)
		require.Zero(t, store.ActivePauseCount())
	}
}
