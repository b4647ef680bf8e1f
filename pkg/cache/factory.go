package cache

import (
	"fmt"

	"dashboard-backend/pkg/redis"
)

// NewStore selects a Store backend. "memory" is the default for a
// single replica; "redis" shares freshness state across replicas.
func NewStore(backend string, redisClient *redis.Client, config CacheConfig) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis cache backend requires a redis client")
		}
		return NewRedisStore(redisClient.GetClient(), config), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
