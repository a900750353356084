package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rnp/cremer-mes/internal/types"
)

// POST /api/v1/orders/:id/acumula/iniciar
func (s *Server) startManual(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	acumula, err := s.eng.StartManual(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acumula)
}

// POST /api/v1/orders/:id/acumula/finalizar
func (s *Server) finishManual(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var spec types.FinishAcumulaSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	acumula, err := s.eng.FinishManual(c.Request.Context(), id, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acumula)
}

// GET /api/v1/orders/:id/acumula
func (s *Server) getAcumula(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	acumula, err := s.eng.AcumulaByOrder(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acumula)
}
