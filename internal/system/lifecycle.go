package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/rnp/cremer-mes/internal/api/rest"
	"github.com/rnp/cremer-mes/internal/api/websocket"
	"github.com/rnp/cremer-mes/internal/autopause"
	"github.com/rnp/cremer-mes/internal/config"
	"github.com/rnp/cremer-mes/internal/counter"
	"github.com/rnp/cremer-mes/internal/engine"
	"github.com/rnp/cremer-mes/internal/events"
	"github.com/rnp/cremer-mes/internal/gpio"
	"github.com/rnp/cremer-mes/internal/storage"
	"go.uber.org/zap"
)

// LifecycleManager owns construction, startup order and graceful shutdown of
// every component.
type LifecycleManager struct {
	config   *config.Config
	storage  *storage.PostgresClient
	bus      *events.Bus
	eng      *engine.Engine
	ingest   *counter.Ingest
	link     *gpio.Link
	detector *autopause.Detector
	wsHub    *websocket.Hub
	logger   *zap.Logger

	restServer *rest.Server

	shutdownOnce sync.Once
}

func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	location, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	profile, err := gpio.LoadProfile(cfg.GPIO.ProfilePath)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger, location)
	eng := engine.New(db, bus, logger, location)
	ingest := counter.NewIngest(db, bus, eng, logger, location)

	link := gpio.NewLink(
		cfg.GPIO.URL,
		cfg.GPIO.HeartbeatTimeout,
		cfg.GPIO.WatchdogInterval,
		cfg.GPIO.HandshakeTimeout,
		logger,
	)

	detector := autopause.New(eng, db, link, profile.PonderalPin, profile.EtiquetaPin,
		autopause.Config{
			OpenDelay:         cfg.AutoPause.OpenDelay,
			CloseDelay:        cfg.AutoPause.CloseDelay,
			Cooldown:          cfg.AutoPause.Cooldown,
			ReconcileInterval: cfg.AutoPause.ReconcileInterval,
			ObserverInterval:  cfg.AutoPause.ObserverInterval,
		}, logger)

	ingest.Attach(link, profile.CounterPin)
	detector.Attach(link)

	wsHub := websocket.NewHub(bus, logger)

	logger.Info("line profile loaded",
		zap.Int("counter_pin", profile.CounterPin),
		zap.Int("ponderal_pin", profile.PonderalPin),
		zap.Int("etiqueta_pin", profile.EtiquetaPin))

	return &LifecycleManager{
		config:   cfg,
		storage:  db,
		bus:      bus,
		eng:      eng,
		ingest:   ingest,
		link:     link,
		detector: detector,
		wsHub:    wsHub,
		logger:   logger,
	}, nil
}

// Start brings the system up: schema, hub, REST, GPIO link, detector.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting Cremer MES control core")

	if err := lm.storage.EnsureSchema(context.Background()); err != nil {
		return err
	}

	go lm.wsHub.Run()

	lm.restServer = rest.NewServer(lm.config, lm.eng, lm.ingest, lm.wsHub, lm.logger)
	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.link.Start()
	lm.detector.Start()

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("gpio_url", lm.config.GPIO.URL))

	return nil
}

// Shutdown stops everything in reverse order: field I/O first so no more
// pulses arrive, then the API, then the hub.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.detector.Stop()
		lm.link.Stop()

		if lm.restServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, lm.config.Server.ShutdownTimeout)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}

		lm.wsHub.Stop()

		lm.logger.Info("Graceful shutdown completed")
	})

	return shutdownErr
}

// Engine returns the order engine.
func (lm *LifecycleManager) Engine() *engine.Engine {
	return lm.eng
}

// Bus returns the event bus.
func (lm *LifecycleManager) Bus() *events.Bus {
	return lm.bus
}
