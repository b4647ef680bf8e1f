package cache

import (
	"encoding/json"
	"time"
)

// Freshness classifies how usable a cache entry is.
type Freshness string

const (
	FreshnessFresh   Freshness = "FRESH"
	FreshnessStale   Freshness = "STALE"
	FreshnessMissing Freshness = "MISSING"
)

// Entry is a cached computation result plus its freshness metadata.
// ComputedAt is the logical version of the data the payload reflects;
// the store rejects writes that would move it backwards.
type Entry struct {
	Payload      json.RawMessage `json:"payload"`
	ComputedAt   int64           `json:"computedAt"`
	Freshness    Freshness       `json:"freshness"`
	TTL          time.Duration   `json:"ttl"`
	SourceTaskID string          `json:"sourceTaskId,omitempty"`
	StoredAt     time.Time       `json:"storedAt"`
}

// expired reports whether the entry's TTL has elapsed. A zero TTL
// means the entry never expires on its own.
func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) > e.TTL
}

// EffectiveFreshness folds TTL expiry into the stored freshness state.
// Expiry reported here does not advance the key's logical clock; only
// explicit invalidation does that.
func (e Entry) EffectiveFreshness(now time.Time) Freshness {
	if e.Freshness == FreshnessFresh && e.expired(now) {
		return FreshnessStale
	}
	return e.Freshness
}

// Age returns how long ago the payload was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
