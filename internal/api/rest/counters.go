package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/orders/:id/counter
func (s *Server) getCounter(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	counter, err := s.ingest.CounterByOrder(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if counter == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, counter)
}

// POST /api/v1/orders/:id/counter/reset
func (s *Server) resetCounter(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	counter, err := s.ingest.Reset(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counter)
}

// GET /api/v1/counter/active
func (s *Server) getActiveCounter(c *gin.Context) {
	counter, err := s.ingest.ActiveCounter(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if counter == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, counter)
}
