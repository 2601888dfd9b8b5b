package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sts/internal/cache"
)

// CacheStatsProvider exposes hit/miss counters of the dashboard cache.
type CacheStatsProvider interface {
	Stats() cache.Stats
}

// CacheHandler handles cache monitoring endpoints
type CacheHandler struct {
	store   CacheStatsProvider
	backend string
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(store CacheStatsProvider, backend string) *CacheHandler {
	return &CacheHandler{store: store, backend: backend}
}

// GetCacheStats returns dashboard cache statistics
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	stats := h.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"backend":  h.backend,
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"sets":     stats.Sets,
			"hit_rate": stats.HitRate(),
		},
	})
}
