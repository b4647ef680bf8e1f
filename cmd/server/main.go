package main

import (
	"log"
	"time"

	"dashboard-backend/internal/api/routes"
	"dashboard-backend/internal/config"
	"dashboard-backend/internal/invalidation"
	"dashboard-backend/internal/repository"
	"dashboard-backend/internal/services"
	"dashboard-backend/internal/websocket"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/database"
	"dashboard-backend/pkg/jwt"
	"dashboard-backend/pkg/ratelimit"
	"dashboard-backend/pkg/redis"
	"dashboard-backend/pkg/tasks"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Disconnect(db.Client())

	// Redis is only needed when the shared cache backend is selected.
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(cfg.Redis)
		defer redisClient.Close()
	}

	cacheCfg := cache.DefaultCacheConfig()
	store, err := cache.NewStore(cfg.CacheBackend, redisClient, cacheCfg)
	if err != nil {
		log.Fatal("Failed to initialize cache store:", err)
	}
	defer store.Close()

	wsManager := websocket.NewManager(nil)
	if err := wsManager.Start(); err != nil {
		log.Fatal("Failed to start push channel:", err)
	}
	defer wsManager.Stop()

	orchestrator := tasks.NewOrchestrator(store, cacheCfg, cfg.Tasks)
	orchestrator.SetNotifier(func(snap tasks.Snapshot) {
		wsManager.Broadcast(websocket.DashboardEvent{
			Type:      websocket.EventTaskCompleted,
			Key:       snap.Key,
			TaskID:    snap.ID,
			TaskState: string(snap.State),
			Timestamp: time.Now(),
		})
	})
	orchestrator.Start()
	defer orchestrator.Stop()

	dispatcher := invalidation.NewDispatcher(cfg.WebhookKey, store)
	dispatcher.SetNotifier(pushNotifier{wsManager})

	recordRepo := repository.NewRecordRepository(db)
	dashboardService := services.NewDashboardService(store, orchestrator, recordRepo, cfg.SampleLimit)

	jwtUtil := jwt.NewJWTUtil(cfg.JWTSecret, cfg.JWTExpiry)
	authService := services.NewAuthService(cfg, jwtUtil)

	limiter := ratelimit.NewMemoryLimiter(map[string]ratelimit.RateLimit{
		"webhook":   {RequestsPerMinute: 120, BurstSize: 30, WindowSize: time.Minute},
		"dashboard": {RequestsPerMinute: 300, BurstSize: 60, WindowSize: time.Minute},
	}, ratelimit.RateLimit{RequestsPerMinute: 60, BurstSize: 15, WindowSize: time.Minute})

	router := gin.Default()

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		Config:           cfg,
		Store:            store,
		Dispatcher:       dispatcher,
		DashboardService: dashboardService,
		AuthService:      authService,
		WSManager:        wsManager,
		RedisClient:      redisClient,
		JWTUtil:          jwtUtil,
		Limiter:          limiter,
	})

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(router.Run(":" + cfg.Port))
}

// pushNotifier adapts the websocket manager to the dispatcher's
// Notifier contract.
type pushNotifier struct {
	manager *websocket.Manager
}

func (n pushNotifier) NotifyInvalidation(changeType string, patterns, affectedRecords []string) {
	n.manager.Broadcast(websocket.DashboardEvent{
		Type:       websocket.EventCacheInvalidated,
		ChangeType: changeType,
		Patterns:   patterns,
		Timestamp:  time.Now(),
	})
	if len(affectedRecords) > 0 {
		n.manager.Broadcast(websocket.DashboardEvent{
			Type:            websocket.EventRecordUpdated,
			ChangeType:      changeType,
			Patterns:        patterns,
			AffectedRecords: affectedRecords,
			Timestamp:       time.Now(),
		})
	}
}
