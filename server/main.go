package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/scalpsense/scalp-cv/server/cache"
	"github.com/scalpsense/scalp-cv/server/config"
	"github.com/scalpsense/scalp-cv/server/detector"
	"github.com/scalpsense/scalp-cv/server/handlers"
	"github.com/scalpsense/scalp-cv/server/middleware"
	"github.com/scalpsense/scalp-cv/server/pipeline"
	"go.uber.org/zap"
)

type Server struct {
	router       *gin.Engine
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	resultCache  cache.Cache
	rateLimiter  *middleware.RateLimiter
	config       *config.Config
}

func main() {
	// A local .env may carry DETECTOR_API_KEY during development.
	godotenv.Load()

	cfg := config.LoadConfig()

	var logger *zap.Logger
	var err error
	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := NewServer(cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.orchestrator.Shutdown(30 * time.Second); err != nil {
		logger.Error("Failed to shutdown analysis pool", zap.Error(err))
	}
	if server.rateLimiter != nil {
		server.rateLimiter.Shutdown()
	}
	if server.resultCache != nil {
		if err := server.resultCache.Close(); err != nil {
			logger.Error("Failed to close cache", zap.Error(err))
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	resultCache := cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, logger)

	detectorClient := detector.NewClient(detector.ClientConfig{
		EndpointURL: cfg.Detector.EndpointURL,
		APIKey:      cfg.Detector.APIKey,
		TargetClass: cfg.Detector.TargetClass,
		Timeout:     cfg.Detector.Timeout,
	}, logger)

	if cfg.Detector.APIKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := detectorClient.HealthCheck(ctx); err != nil {
			logger.Warn("Detector service not reachable at startup", zap.Error(err))
		}
		cancel()
	}

	orchestrator := pipeline.NewOrchestrator(detectorClient, resultCache, pipeline.Config{
		TargetClass:      cfg.Detector.TargetClass,
		QueueSize:        cfg.Pipeline.QueueSize,
		Workers:          cfg.Pipeline.Workers,
		APIKeyConfigured: cfg.Detector.APIKey != "",
		CacheTTL:         cfg.Cache.TTL,
	}, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))

	compareHandler := handlers.NewCompareHandler(orchestrator, resultCache, logger)
	wsHandler := handlers.NewWebSocketHandler(orchestrator, logger)

	router.GET("/health", middleware.HealthCheck())
	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		protected := api.Group("/")
		protected.Use(rateLimiter.RateLimit())
		{
			protected.POST("/compare", compareHandler.Compare)
			protected.GET("/stats", compareHandler.GetStats)
		}
	}

	router.Static("/static", "./client")
	router.StaticFile("/", "./client/index.html")

	return &Server{
		router:       router,
		logger:       logger,
		orchestrator: orchestrator,
		resultCache:  resultCache,
		rateLimiter:  rateLimiter,
		config:       cfg,
	}
}
