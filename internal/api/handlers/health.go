package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// HealthChecker is any dependency that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	samplesPath string
	checks      map[string]HealthChecker
	version     string
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates a health handler. Nil checkers are skipped.
func NewHealthHandler(samplesPath, version string, checks map[string]HealthChecker) *HealthHandler {
	active := make(map[string]HealthChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{samplesPath: samplesPath, checks: active, version: version}
}

// HealthCheck reports the samples file and every configured dependency.
// A missing samples file is "degraded" and still answers 200; a failing
// dependency answers 503.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)
	status := "healthy"

	if _, err := os.Stat(h.samplesPath); err != nil {
		services["samples"] = "unavailable: " + err.Error()
		status = "degraded"
	} else {
		services["samples"] = "healthy"
	}

	for name, checker := range h.checks {
		if err := checker.HealthCheck(c.Request.Context()); err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = "unhealthy"
		} else {
			services[name] = "healthy"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	})
}

// LivenessCheck for container restarts
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
