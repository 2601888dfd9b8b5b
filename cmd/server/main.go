package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/sts/internal/api"
	"github.com/irfndi/sts/internal/api/handlers"
	"github.com/irfndi/sts/internal/cache"
	"github.com/irfndi/sts/internal/config"
	"github.com/irfndi/sts/internal/dashboard"
	"github.com/irfndi/sts/internal/database"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/middleware"
	"github.com/irfndi/sts/internal/telemetry"
)

const serviceName = "sts-dashboard"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	traceOut, closeTraces, err := telemetry.TraceWriter(cfg.Telemetry.TraceFile)
	if err != nil {
		return err
	}
	defer func() { _ = closeTraces() }()
	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		Writer:         traceOut,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger.Logger())
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel, cfg.Environment)

	checks := map[string]handlers.HealthChecker{}

	store, redisClient, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient
	}

	dash := dashboard.NewService(cfg.Data.SamplesPath, store, logrusLogger)
	dash.SetEventLogger(logger)

	deps := api.Dependencies{
		Dashboard:    dash,
		CacheStats:   store,
		CacheBackend: cfg.Cache.Backend,
		SamplesPath:  cfg.Data.SamplesPath,
		HealthChecks: checks,
		ModelName:    cfg.Forecast.ModelName,
		Logger:       logger,
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(context.Background(), cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("Forecast database unavailable, continuing without it")
		} else {
			defer db.Close()
			checks["database"] = db
			deps.Stored = database.NewForecastRepository(database.NewTracedDB(db.Pool))
		}
	}

	router := newRouter(cfg, logger, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.LogStartup(serviceName, api.Version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.LogShutdown(serviceName, "signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.WithComponent("server").Info("Server exited gracefully")
	return nil
}

// buildStore returns the dashboard cache for the configured backend. The
// Redis client is returned so the caller can close and health-check it.
func buildStore(cfg *config.Config, logger cache.OperationLogger) (cache.Store, *database.RedisClient, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedisStore(client.Client, cfg.Cache.TTLDuration(), logger), client, nil
	default:
		return cache.NewMemoryStore(cfg.Cache.TTLDuration(), logger), nil, nil
	}
}

func newRouter(cfg *config.Config, logger *logging.StandardLogger, deps api.Dependencies) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.WithComponent("http")))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(middleware.TelemetryMiddleware())

	if deps.Logger == nil {
		deps.Logger = logger
	}
	api.SetupRoutes(router, deps)
	return router
}

// requestLogger logs one structured entry per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
