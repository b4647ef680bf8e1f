package handlers

import (
	"log"
	"strings"

	"dashboard-backend/internal/websocket"
	"dashboard-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WebSocketHandler struct {
	manager *websocket.Manager
}

func NewWebSocketHandler(manager *websocket.Manager) *WebSocketHandler {
	return &WebSocketHandler{manager: manager}
}

// Connect upgrades the request and registers the client on the push
// channel. An optional ?namespaces=a,b query restricts which events
// the client receives.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	conn, err := h.manager.GetUpgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	var filters websocket.Filters
	if raw := c.Query("namespaces"); raw != "" {
		filters.Namespaces = strings.Split(raw, ",")
	}

	clientID := uuid.NewString()
	if err := h.manager.RegisterClient(clientID, conn, filters); err != nil {
		log.Printf("Failed to register client %s: %v", clientID, err)
		conn.Close()
	}
}

// Stats reports connected-client counts for the health endpoint.
func (h *WebSocketHandler) Stats(c *gin.Context) {
	utils.SuccessResponse(c, 200, "WebSocket stats retrieved", gin.H{
		"connectedClients": h.manager.ConnectedClients(),
	})
}
