package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rnp/cremer-mes/internal/types"
)

// POST /api/v1/orders/:id/pauses
func (s *Server) openPause(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var spec types.OpenPauseSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	pause, err := s.eng.OpenPause(c.Request.Context(), id, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pause)
}

// POST /api/v1/orders/:id/pauses/:idPausa/finalizar
func (s *Server) closePause(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	idPausa, err := strconv.ParseInt(c.Param("idPausa"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid pause id", c.Param("idPausa")))
		return
	}

	var spec types.ClosePauseSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	pause, err := s.eng.ClosePause(c.Request.Context(), id, idPausa, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pause)
}

// GET /api/v1/orders/:id/pauses
func (s *Server) listPauses(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	pauses, err := s.eng.PausesByOrder(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pauses)
}

// GET /api/v1/orders/:id/pauses/active
func (s *Server) getActivePause(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	pause, err := s.eng.ActivePause(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if pause == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, pause)
}
