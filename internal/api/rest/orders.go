package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rnp/cremer-mes/internal/types"
)

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid order id", c.Param("id")))
		return 0, false
	}
	return id, true
}

// POST /api/v1/orders
func (s *Server) createOrder(c *gin.Context) {
	var spec types.CreateOrderSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	order, err := s.eng.CreateOrder(c.Request.Context(), spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GET /api/v1/orders
func (s *Server) listOrders(c *gin.Context) {
	filter := types.OrderFilter{
		Estado:   types.EstadoOrder(c.Query("estado")),
		Operario: c.Query("operario"),
		Lote:     c.Query("lote"),
		Articulo: c.Query("articulo"),
	}

	orders, err := s.eng.ListOrders(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /api/v1/orders/stats
func (s *Server) orderStats(c *gin.Context) {
	stats, err := s.eng.OrderStats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/v1/orders/:id
func (s *Server) getOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := s.eng.OrderByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GET /api/v1/orders/cod/:codOrder
func (s *Server) getOrderByCod(c *gin.Context) {
	order, err := s.eng.OrderByCod(c.Request.Context(), c.Param("codOrder"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// POST /api/v1/orders/:id/iniciar
func (s *Server) iniciarOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := s.eng.Iniciar(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// POST /api/v1/orders/:id/finalizar
func (s *Server) finalizarOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var spec types.FinishOrderSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	order, err := s.eng.Finalizar(c.Request.Context(), id, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DELETE /api/v1/orders/:id
func (s *Server) deleteOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var spec types.DeleteOrderSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest,
			types.NewErrorResponse(string(types.KindInvalidInput), "invalid request body", err.Error()))
		return
	}

	audit, err := s.eng.DeleteOrder(c.Request.Context(), id, spec, c.ClientIP())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// GET /api/v1/active-order
func (s *Server) getActiveOrder(c *gin.Context) {
	order, err := s.eng.ActiveVisibleOrder(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, order)
}
