package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rnp/cremer-mes/internal/api/websocket"
	"github.com/rnp/cremer-mes/internal/config"
	"github.com/rnp/cremer-mes/internal/counter"
	"github.com/rnp/cremer-mes/internal/engine"
	"github.com/rnp/cremer-mes/internal/types"
	"go.uber.org/zap"
)

// Server is the thin HTTP surface over the engines. Handlers only bind,
// delegate and translate error kinds to status codes; every rule lives in
// the engine layer.
type Server struct {
	router *gin.Engine
	eng    *engine.Engine
	ingest *counter.Ingest
	wsHub  *websocket.Hub
	logger *zap.Logger
	server *http.Server
}

func NewServer(cfg *config.Config, eng *engine.Engine, ingest *counter.Ingest, wsHub *websocket.Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		eng:    eng,
		ingest: ingest,
		wsHub:  wsHub,
		logger: logger,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(logger))
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", s.createOrder)
			orders.GET("", s.listOrders)
			orders.GET("/stats", s.orderStats)
			orders.GET("/cod/:codOrder", s.getOrderByCod)
			orders.GET("/:id", s.getOrder)
			orders.POST("/:id/iniciar", s.iniciarOrder)
			orders.POST("/:id/finalizar", s.finalizarOrder)
			orders.DELETE("/:id", s.deleteOrder)

			orders.GET("/:id/pauses", s.listPauses)
			orders.GET("/:id/pauses/active", s.getActivePause)
			orders.POST("/:id/pauses", s.openPause)
			orders.POST("/:id/pauses/:idPausa/finalizar", s.closePause)

			orders.GET("/:id/metricas", s.getMetricas)
			orders.GET("/:id/metricas/simuladas", s.getMetricasSimuladas)
			orders.POST("/:id/metricas/recalcular", s.recalcularMetricas)

			orders.POST("/:id/acumula/iniciar", s.startManual)
			orders.POST("/:id/acumula/finalizar", s.finishManual)
			orders.GET("/:id/acumula", s.getAcumula)

			orders.GET("/:id/counter", s.getCounter)
			orders.POST("/:id/counter/reset", s.resetCounter)
		}

		v1.GET("/counter/active", s.getActiveCounter)
		v1.GET("/active-order", s.getActiveOrder)

		v1.GET("/ws", s.wsLiveConnection)
		v1.GET("/ws/status", s.wsStatus)
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.ClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// respondError maps engine error kinds to HTTP statuses and the shared error
// envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := types.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindAlreadyExists, types.KindInvalidState, types.KindConflict:
		status = http.StatusConflict
	case types.KindInvalidInput:
		status = http.StatusBadRequest
	}

	message := err.Error()
	if kind == types.KindInternal {
		// Never leak internals across the boundary.
		message = "internal error"
		s.logger.Error("request failed", zap.Error(err))
	}

	c.JSON(status, types.NewErrorResponse(string(kind), message, nil))
}
