package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spacecast/internal/core/ports"
	"spacecast/internal/core/services"
	httphandlers "spacecast/internal/handlers/http"
	"spacecast/internal/infrastructure/credentials"
	"spacecast/internal/infrastructure/egress"
	"spacecast/internal/infrastructure/middleware"
	"spacecast/internal/infrastructure/monitoring"
	"spacecast/internal/infrastructure/realtime"
	repositories "spacecast/internal/infrastructure/repositories"
	"spacecast/pkg/circuitbreaker"
	"spacecast/pkg/config"
	"spacecast/pkg/logger"
	"spacecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/spacecast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "spacesd",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	roomRepo := repoFactory.CreateRoomRepository()
	participantRepo := repoFactory.CreateParticipantRepository()

	var credentialService ports.CredentialService = credentials.NewJWTCredentialService(
		cfg.Auth.JWTSecret,
		cfg.Transport.SignalURL,
		cfg.Auth.CredentialTTL,
		log,
	)
	credentialService = credentials.NewBreakerCredentialService(
		credentialService,
		circuitbreaker.DefaultConfig(),
		log,
	)

	var egressService ports.EgressService
	if cfg.Egress.Enabled {
		egressService = egress.NewClient(cfg.Egress.BaseURL, cfg.Egress.Timeout, log)
	}

	hub := realtime.NewHub(log)

	metricsService := services.NewMetricsService()
	if cfg.Monitoring.PrometheusEnabled {
		metricsService.SetExporter(monitoring.NewPrometheusCollector())
	}

	roomService := services.NewRoomService(roomRepo, egressService, hub, metricsService, log)
	joinService := services.NewJoinCoordinator(roomRepo, participantRepo, credentialService, metricsService, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Multi-node room state fanout rides the Redis pub/sub channel; the
	// watcher degrades to store polling while the channel is down.
	if client := repoFactory.RedisClient(); client != nil {
		watcher := realtime.NewWatcher(client, hub, roomRepo, cfg.Presence.PollInterval, log)
		go watcher.Run(rootCtx)
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("store", func(ctx context.Context) (bool, error) {
		if err := repoFactory.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, 15*time.Second, 2*time.Second)
	healthChecker.StartBackgroundChecks(rootCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.RateLimitMiddleware(cfg))
	router.Use(middleware.OptionalAuthMiddleware(cfg.Auth.JWTSecret))

	roomHandler := httphandlers.NewRoomHandler(roomService, joinService)
	roomHandler.SetupRoutes(router.Group("/api/v1"))

	router.GET("/ws/rooms", gin.WrapF(hub.HandleWebSocket))
	router.GET("/health", gin.WrapF(healthChecker.Handler()))
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting spacesd", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	rootCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error shutting down tracer", "error", err)
		}
	}

	log.Info("spacesd stopped")
}
