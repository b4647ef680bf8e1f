package handlers

import (
	"net/http"

	"dashboard-backend/internal/invalidation"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type CacheHandler struct {
	store      cache.Store
	dispatcher *invalidation.Dispatcher
}

func NewCacheHandler(store cache.Store, dispatcher *invalidation.Dispatcher) *CacheHandler {
	return &CacheHandler{store: store, dispatcher: dispatcher}
}

// GetCacheStatus reports hit/miss counters, live keys and the recent
// invalidation audit trail.
func (h *CacheHandler) GetCacheStatus(c *gin.Context) {
	keys, err := h.store.Keys()
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to read cache keys", err)
		return
	}

	status := gin.H{
		"stats":        h.store.Stats(),
		"keys":         keys,
		"recentEvents": h.dispatcher.AuditTrail(),
	}
	// The in-memory backend can enumerate per-entry freshness cheaply.
	if lister, ok := h.store.(interface{ Entries() []cache.EntryInfo }); ok {
		status["entries"] = lister.Entries()
	}

	utils.SuccessResponse(c, http.StatusOK, "Cache status retrieved", status)
}

// ClearCache deletes all entries matching the glob pattern.
func (h *CacheHandler) ClearCache(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Pattern is required", nil)
		return
	}

	cleared, err := h.store.Delete(pattern)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to clear cache", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"cleared_count": cleared,
	})
}
