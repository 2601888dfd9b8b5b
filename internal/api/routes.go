package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sts/internal/api/handlers"
	"github.com/irfndi/sts/internal/logging"
	"github.com/irfndi/sts/internal/middleware"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Dependencies are the collaborators the HTTP layer serves from.
type Dependencies struct {
	Dashboard    handlers.ForecastDashboard
	CacheStats   handlers.CacheStatsProvider
	CacheBackend string
	SamplesPath  string
	// HealthChecks are optional dependencies reported by /health, e.g. "redis".
	HealthChecks map[string]handlers.HealthChecker
	// Stored serves /forecast/latest; nil when no database is configured.
	Stored    handlers.StoredForecastReader
	ModelName string
	// Logger receives server-side request failures; nil discards them.
	Logger *logging.StandardLogger
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewStandardLoggerWithWriter(io.Discard, "error", "")
	}

	healthHandler := handlers.NewHealthHandler(deps.SamplesPath, Version, deps.HealthChecks)
	forecastHandler := handlers.NewForecastHandler(deps.Dashboard, logger)

	// Health check endpoints
	router.GET("/health", middleware.HealthCheckTelemetryMiddleware(), healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		forecast := v1.Group("/forecast")
		{
			forecast.GET("/range", forecastHandler.GetRange)
			forecast.GET("/mean", forecastHandler.GetMean)
			forecast.GET("/exceedance", forecastHandler.GetExceedance)

			if deps.Stored != nil {
				storedHandler := handlers.NewStoredForecastHandler(deps.Stored, deps.ModelName, logger)
				forecast.GET("/latest", storedHandler.GetLatest)
			}
		}

		if deps.CacheStats != nil {
			cacheHandler := handlers.NewCacheHandler(deps.CacheStats, deps.CacheBackend)
			v1.GET("/cache/stats", cacheHandler.GetCacheStats)
		}
	}
}
