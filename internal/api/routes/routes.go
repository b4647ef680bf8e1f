package routes

import (
	"dashboard-backend/internal/api/handlers"
	"dashboard-backend/internal/api/middleware"
	"dashboard-backend/internal/config"
	"dashboard-backend/internal/invalidation"
	"dashboard-backend/internal/services"
	"dashboard-backend/internal/websocket"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/jwt"
	"dashboard-backend/pkg/ratelimit"
	"dashboard-backend/pkg/redis"

	"github.com/gin-gonic/gin"
)

// Dependencies carries the wired collaborators from main into the
// route table.
type Dependencies struct {
	Config           *config.Config
	Store            cache.Store
	Dispatcher       *invalidation.Dispatcher
	DashboardService *services.DashboardService
	AuthService      *services.AuthService
	WSManager        *websocket.Manager
	RedisClient      *redis.Client
	JWTUtil          *jwt.JWTUtil
	Limiter          ratelimit.RateLimiter
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	dashboardHandler := handlers.NewDashboardHandler(deps.DashboardService)
	cacheHandler := handlers.NewCacheHandler(deps.Store, deps.Dispatcher)
	webhookHandler := handlers.NewWebhookHandler(deps.Dispatcher)
	wsHandler := handlers.NewWebSocketHandler(deps.WSManager)
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.RedisClient, deps.WSManager)

	// Webhook entrypoint sits outside the API group; the external
	// system authenticates with its key, not a bearer token.
	router.POST("/webhook/data-changed",
		middleware.RateLimitMiddleware(deps.Limiter, "webhook"),
		webhookHandler.DataChanged)

	router.GET("/ws", wsHandler.Connect)

	api := router.Group("/api/v1")

	api.GET("/health", healthHandler.Health)
	api.POST("/auth/login", authHandler.Login)

	dashboard := api.Group("/dashboard")
	dashboard.Use(middleware.RateLimitMiddleware(deps.Limiter, "dashboard"))
	{
		dashboard.GET("", dashboardHandler.GetDashboard)
		dashboard.GET("/refresh", dashboardHandler.RefreshDashboard)
		dashboard.GET("/status/:taskId", dashboardHandler.GetTaskStatus)
		dashboard.DELETE("/status/:taskId", dashboardHandler.CancelTask)
	}

	admin := api.Group("/cache")
	admin.Use(middleware.AuthMiddleware(deps.JWTUtil))
	{
		admin.GET("/status", cacheHandler.GetCacheStatus)
		admin.POST("/clear", cacheHandler.ClearCache)
		admin.GET("/ws-stats", wsHandler.Stats)
	}
}
