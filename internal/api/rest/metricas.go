package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/orders/:id/metricas
func (s *Server) getMetricas(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	m, err := s.eng.MetricasByOrder(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, m)
}

// GET /api/v1/orders/:id/metricas/simuladas
func (s *Server) getMetricasSimuladas(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	m, err := s.eng.MetricasSimuladas(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// POST /api/v1/orders/:id/metricas/recalcular
func (s *Server) recalcularMetricas(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	m, err := s.eng.RecalcularMetricas(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
