package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"dashboard-backend/internal/models"
	"dashboard-backend/internal/services"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/tasks"
	"dashboard-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// filterParams are the query parameters forwarded into cache keys and
// record queries; everything else is dropped at the boundary.
var filterParams = []string{"period", "project", "status", "owner"}

type DashboardHandler struct {
	dashboardService *services.DashboardService
}

func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// GetDashboard serves the read path: best-available payload plus the
// cache status the client reconciles against.
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	namespace, filters, ok := h.parseRequest(c)
	if !ok {
		return
	}

	payload, status, err := h.dashboardService.Resolve(c.Request.Context(), namespace, filters)
	h.respond(c, payload, status, err)
}

// RefreshDashboard forces a recomputation and returns once the
// immediate payload and task handle are available, not the full result.
func (h *DashboardHandler) RefreshDashboard(c *gin.Context) {
	namespace, filters, ok := h.parseRequest(c)
	if !ok {
		return
	}

	payload, status, err := h.dashboardService.Refresh(c.Request.Context(), namespace, filters)
	h.respond(c, payload, status, err)
}

// GetTaskStatus reports a computation task's current snapshot.
func (h *DashboardHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	snapshot, err := h.dashboardService.TaskStatus(taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		utils.ErrorResponse(c, http.StatusNotFound, "Task not found", err)
		return
	}
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch task status", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Task status retrieved", snapshot)
}

// CancelTask requests best-effort cancellation.
func (h *DashboardHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.dashboardService.CancelTask(taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		utils.ErrorResponse(c, http.StatusNotFound, "Task not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Cancellation requested", nil)
}

func (h *DashboardHandler) parseRequest(c *gin.Context) (string, map[string]string, bool) {
	namespace := c.DefaultQuery("type", cache.NamespaceManager)
	switch namespace {
	case cache.NamespaceManager, cache.NamespaceCost, cache.NamespaceProject:
	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "Unknown dashboard type", nil)
		return "", nil, false
	}

	filters := make(map[string]string)
	for _, name := range filterParams {
		if v := c.Query(name); v != "" {
			filters[name] = v
		}
	}
	return namespace, filters, true
}

// respond always answers 200: even when the immediate approximation
// failed, the task handle lets the client poll for the real result.
func (h *DashboardHandler) respond(c *gin.Context, payload json.RawMessage, status models.CacheStatus, err error) {
	response := utils.DashboardResponse{
		Success:     err == nil,
		Data:        payload,
		CacheStatus: status,
	}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(http.StatusOK, response)
}
