package handlers

import (
	"net/http"
	"time"

	"dashboard-backend/internal/websocket"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/redis"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	startedAt   time.Time
	store       cache.Store
	redisClient *redis.Client // nil when the memory backend is active
	wsManager   *websocket.Manager
}

func NewHealthHandler(store cache.Store, redisClient *redis.Client, wsManager *websocket.Manager) *HealthHandler {
	return &HealthHandler{
		startedAt:   time.Now(),
		store:       store,
		redisClient: redisClient,
		wsManager:   wsManager,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	health := gin.H{
		"status":           "ok",
		"uptimeSeconds":    int64(time.Since(h.startedAt).Seconds()),
		"cache":            h.store.Stats(),
		"connectedClients": h.wsManager.ConnectedClients(),
	}

	if h.redisClient != nil {
		status := h.redisClient.HealthCheck()
		health["redis"] = status
		if !status.IsConnected {
			health["status"] = "degraded"
		}
	}

	c.JSON(http.StatusOK, health)
}
