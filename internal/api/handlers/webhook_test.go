package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard-backend/internal/invalidation"
	"dashboard-backend/pkg/cache"
)

const webhookSecret = "test-webhook-key"

func setupWebhookRouter(t *testing.T) (*gin.Engine, *cache.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := cache.NewMemoryStore()
	dispatcher := invalidation.NewDispatcher(webhookSecret, store)
	handler := NewWebhookHandler(dispatcher)

	router := gin.New()
	router.POST("/webhook/data-changed", handler.DataChanged)
	return router, store
}

func postWebhook(router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	encoded, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhook/data-changed", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func webhookBody(changeType string) map[string]interface{} {
	return map[string]interface{}{
		"webhook_key":   webhookSecret,
		"change_type":   changeType,
		"source_system": "erp",
		"timestamp":     time.Now().Format(time.RFC3339),
	}
}

func TestWebhookInvalidates(t *testing.T) {
	router, store := setupWebhookRouter(t)
	key := cache.BuildKey(cache.NamespaceManager, map[string]string{"period": "30D"})
	require.NoError(t, store.Put(key, cache.Entry{
		Payload:    json.RawMessage(`{}`),
		ComputedAt: 1,
	}))

	w := postWebhook(router, webhookBody("cost-updated"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success     bool     `json:"success"`
		Patterns    []string `json:"patterns"`
		MarkedStale int      `json:"markedStale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.MarkedStale)
	assert.Contains(t, resp.Patterns, "manager_dashboard:*")

	entry, found := store.Get(key)
	require.True(t, found)
	assert.Equal(t, cache.FreshnessStale, entry.Freshness)
}

func TestWebhookRejectsBadKey(t *testing.T) {
	router, store := setupWebhookRouter(t)
	key := cache.BuildKey(cache.NamespaceManager, nil)
	require.NoError(t, store.Put(key, cache.Entry{
		Payload:    json.RawMessage(`{}`),
		ComputedAt: 1,
	}))

	body := webhookBody("bulk-import")
	body["webhook_key"] = "wrong"
	w := postWebhook(router, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	entry, found := store.Get(key)
	require.True(t, found)
	assert.Equal(t, cache.FreshnessFresh, entry.Freshness)
}

func TestWebhookRejectsUnknownChangeType(t *testing.T) {
	router, _ := setupWebhookRouter(t)
	w := postWebhook(router, webhookBody("schema-migrated"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	router, _ := setupWebhookRouter(t)
	body := webhookBody("record-updated")
	delete(body, "timestamp")
	w := postWebhook(router, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhook/data-changed", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookTestPing(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	w := postWebhook(router, webhookBody("test"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success     bool `json:"success"`
		MarkedStale int  `json:"markedStale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Zero(t, resp.MarkedStale)
}
