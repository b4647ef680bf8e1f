package cache

import "time"

// CacheConfig holds per-namespace TTLs and Redis key layout.
type CacheConfig struct {
	ManagerTTL  time.Duration `json:"managerTTL"`
	CostTTL     time.Duration `json:"costTTL"`
	ProjectTTL  time.Duration `json:"projectTTL"`
	DefaultTTL  time.Duration `json:"defaultTTL"`
	KeyPrefix   string        `json:"keyPrefix"`   // prefix for entry hashes in Redis
	VersionKeys string        `json:"versionKeys"` // prefix for logical clock keys in Redis
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ManagerTTL:  5 * time.Minute,
		CostTTL:     10 * time.Minute,
		ProjectTTL:  5 * time.Minute,
		DefaultTTL:  2 * time.Minute,
		KeyPrefix:   "dash:",
		VersionKeys: "dashver:",
	}
}

// TTLForNamespace returns the TTL applied to entries of a namespace.
func (c CacheConfig) TTLForNamespace(namespace string) time.Duration {
	switch namespace {
	case NamespaceManager:
		return c.ManagerTTL
	case NamespaceCost:
		return c.CostTTL
	case NamespaceProject:
		return c.ProjectTTL
	default:
		return c.DefaultTTL
	}
}
