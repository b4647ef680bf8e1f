package handlers

import (
	"errors"
	"net/http"

	"dashboard-backend/internal/invalidation"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type WebhookHandler struct {
	dispatcher *invalidation.Dispatcher
}

func NewWebhookHandler(dispatcher *invalidation.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// DataChanged receives change notifications from the external data
// source and applies them through the dispatcher.
func (h *WebhookHandler) DataChanged(c *gin.Context) {
	var event invalidation.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	result, err := h.dispatcher.Apply(&event)
	if err != nil {
		if errors.Is(err, invalidation.ErrBadWebhookKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid webhook key"})
			return
		}
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to apply invalidation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"patterns":    result.Patterns,
		"markedStale": result.MarkedStale,
	})
}
