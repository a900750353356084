package types

import "time"

// TipoPausa classifies a production pause.
type TipoPausa string

const (
	TipoIncidenciaContadora     TipoPausa = "INCIDENCIA_MAQUINA_CONTADORA"
	TipoIncidenciaPesadora      TipoPausa = "INCIDENCIA_MAQUINA_PESADORA"
	TipoIncidenciaEtiquetadora  TipoPausa = "INCIDENCIA_MAQUINA_ETIQUETADORA"
	TipoIncidenciaRepercap      TipoPausa = "INCIDENCIA_MAQUINA_REPERCAP"
	TipoIncidenciaTaponadora    TipoPausa = "INCIDENCIA_MAQUINA_TAPONADORA"
	TipoIncidenciaPosicionadora TipoPausa = "INCIDENCIA_MAQUINA_POSICIONADORA"
	TipoIncidenciaEnvasadora    TipoPausa = "INCIDENCIA_MAQUINA_ENVASADORA"
	TipoIncidenciaOtros         TipoPausa = "INCIDENCIA_MAQUINA_OTROS"
	TipoFaltaMaterial           TipoPausa = "FALTA_MATERIAL"
	TipoMaterialDefectuoso      TipoPausa = "MATERIAL_DEFECTUOSO"
	TipoMantenimiento           TipoPausa = "MANTENIMIENTO_EN_PROCESO"
	TipoLimpieza                TipoPausa = "LIMPIEZA_EN_PROCESO"
	TipoParadaCalidad           TipoPausa = "PARADA_CALIDAD"
	TipoAveriaPonderal          TipoPausa = "AVERIA_PONDERAL"
	TipoAveriaEtiqueta          TipoPausa = "AVERIA_ETIQUETA"
	TipoCambioTurno             TipoPausa = "CAMBIO_TURNO"
	TipoFabricacionParcial      TipoPausa = "FABRICACION_PARCIAL"
	TipoParada                  TipoPausa = "PARADA"
)

// Computa reports whether a pause of this tipo counts against availability.
// Shift changes, partial fabrication and plain stops do not; everything else
// (including any tipo added later) does.
func (t TipoPausa) Computa() bool {
	switch t {
	case TipoCambioTurno, TipoFabricacionParcial, TipoParada:
		return false
	}
	return true
}

// Known reports whether t is part of the closed tipo set.
func (t TipoPausa) Known() bool {
	switch t {
	case TipoIncidenciaContadora, TipoIncidenciaPesadora, TipoIncidenciaEtiquetadora,
		TipoIncidenciaRepercap, TipoIncidenciaTaponadora, TipoIncidenciaPosicionadora,
		TipoIncidenciaEnvasadora, TipoIncidenciaOtros,
		TipoFaltaMaterial, TipoMaterialDefectuoso,
		TipoMantenimiento, TipoLimpieza, TipoParadaCalidad,
		TipoAveriaPonderal, TipoAveriaEtiqueta,
		TipoCambioTurno, TipoFabricacionParcial, TipoParada:
		return true
	}
	return false
}

// Pause is an interval during which an order is not producing. A pause may be
// opened without a tipo; the tipo must then be supplied at close time.
type Pause struct {
	IDPausa          int64      `json:"idPausa"`
	IDOrder          int64      `json:"idOrder"`
	Tipo             *TipoPausa `json:"tipo,omitempty"`
	Descripcion      string     `json:"descripcion,omitempty"`
	Operario         string     `json:"operario,omitempty"`
	Computa          *bool      `json:"computa,omitempty"`
	HoraInicio       time.Time  `json:"horaInicio"`
	HoraFin          *time.Time `json:"horaFin,omitempty"`
	TiempoTotalPausa *float64   `json:"tiempoTotalPausa,omitempty"`
}

// Open reports whether the pause has not been closed yet.
func (p *Pause) Open() bool { return p.HoraFin == nil }

// OpenPauseSpec carries the caller-supplied fields when opening a pause.
// Every field is optional: a pause may be classified later, at close time.
type OpenPauseSpec struct {
	Tipo        *TipoPausa `json:"tipo"`
	Descripcion string     `json:"descripcion"`
	Operario    string     `json:"operario"`
}

// ClosePauseSpec carries the caller-supplied fields when closing a pause.
type ClosePauseSpec struct {
	Tipo        *TipoPausa `json:"tipo"`
	Descripcion string     `json:"descripcion"`
	Operario    string     `json:"operario"`
}
