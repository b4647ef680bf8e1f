package cache

import (
	"errors"
	"time"
)

// ErrSuperseded is returned by Put when the offered entry's version is
// older than the key's current logical clock. The write is a no-op.
var ErrSuperseded = errors.New("cache: put superseded by newer version")

// Store is the cache store contract. All mutation of cached dashboard
// state goes through this interface; implementations must be safe for
// concurrent callers.
type Store interface {
	// Get returns the entry for a key. Absence is not an error; the
	// returned freshness already accounts for TTL expiry.
	Get(key string) (Entry, bool)

	// Put commits an entry only if its ComputedAt is not older than
	// the key's current version; otherwise it returns ErrSuperseded
	// and leaves the store unchanged.
	Put(key string, entry Entry) error

	// MarkStale marks every entry matching the glob pattern STALE and
	// advances each matched key's logical clock. Returns the number of
	// entries marked.
	MarkStale(pattern string) (int, error)

	// Delete removes every entry matching the glob pattern, keeping
	// key versions so late writes from in-flight tasks stay ordered.
	// Returns the number of entries removed.
	Delete(pattern string) (int, error)

	// Version returns the key's current logical clock (0 if never
	// written or invalidated).
	Version(key string) (int64, error)

	// Keys returns the canonical keys of all live entries.
	Keys() ([]string, error)

	Stats() Stats
	Close() error
}

// Stats provides cache performance counters for /cache/status.
type Stats struct {
	TotalHits     int64   `json:"totalHits"`
	TotalMisses   int64   `json:"totalMisses"`
	HitRate       float64 `json:"hitRate"`
	MissRate      float64 `json:"missRate"`
	KeyCount      int     `json:"keyCount"`
	StaleCount    int     `json:"staleCount"`
	EvictionCount int64   `json:"evictionCount"`
}

func computeRates(hits, misses int64) (hitRate, missRate float64) {
	total := hits + misses
	if total == 0 {
		return 0, 0
	}
	return float64(hits) / float64(total), float64(misses) / float64(total)
}

// EntryInfo is the per-key view exposed by the cache admin endpoint.
type EntryInfo struct {
	Key        string        `json:"key"`
	Freshness  Freshness     `json:"freshness"`
	ComputedAt int64         `json:"computedAt"`
	Age        time.Duration `json:"ageMs"`
}
