package cache

import (
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation. Entries and key
// versions live in maps guarded by a single RWMutex; reads take the
// read lock only, so unrelated keys never block each other on writes.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	versions map[string]int64

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		versions: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	entry, found := s.entries[key]
	s.mu.RUnlock()

	if !found {
		s.recordMiss()
		return Entry{Freshness: FreshnessMissing}, false
	}

	// TTL expiry is folded in lazily; the stored entry is untouched so
	// the logical clock is not advanced by mere aging.
	entry.Freshness = entry.EffectiveFreshness(time.Now())
	s.recordHit()
	return entry, true
}

func (s *MemoryStore) Put(key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Compare-and-set on the key's logical clock. A put racing an
	// invalidation that already bumped the clock loses here, which is
	// what keeps stale results from masquerading as fresh ones.
	if entry.ComputedAt < s.versions[key] {
		return ErrSuperseded
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	if entry.Freshness == "" {
		entry.Freshness = FreshnessFresh
	}
	s.versions[key] = entry.ComputedAt
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) MarkStale(pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for key, entry := range s.entries {
		if !MatchPattern(pattern, key) {
			continue
		}
		entry.Freshness = FreshnessStale
		s.entries[key] = entry
		// Always advance the clock: the underlying data may have
		// changed, so any in-flight computation for this key must not
		// be allowed to commit as current.
		s.versions[key]++
		marked++
	}
	return marked, nil
}

func (s *MemoryStore) Delete(pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if MatchPattern(pattern, key) {
			delete(s.entries, key)
			s.versions[key]++
			removed++
		}
	}

	if removed > 0 {
		s.statsMu.Lock()
		s.evictions += int64(removed)
		s.statsMu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) Version(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[key], nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Entries returns the admin view of all live entries.
func (s *MemoryStore) Entries() []EntryInfo {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for key, entry := range s.entries {
		infos = append(infos, EntryInfo{
			Key:        key,
			Freshness:  entry.EffectiveFreshness(now),
			ComputedAt: entry.ComputedAt,
			Age:        entry.Age(now),
		})
	}
	return infos
}

func (s *MemoryStore) Stats() Stats {
	now := time.Now()

	s.mu.RLock()
	keyCount := len(s.entries)
	staleCount := 0
	for _, entry := range s.entries {
		if entry.EffectiveFreshness(now) == FreshnessStale {
			staleCount++
		}
	}
	s.mu.RUnlock()

	s.statsMu.Lock()
	hits, misses, evictions := s.hits, s.misses, s.evictions
	s.statsMu.Unlock()

	hitRate, missRate := computeRates(hits, misses)
	return Stats{
		TotalHits:     hits,
		TotalMisses:   misses,
		HitRate:       hitRate,
		MissRate:      missRate,
		KeyCount:      keyCount,
		StaleCount:    staleCount,
		EvictionCount: evictions,
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) recordHit() {
	s.statsMu.Lock()
	s.hits++
	s.statsMu.Unlock()
}

func (s *MemoryStore) recordMiss() {
	s.statsMu.Lock()
	s.misses++
	s.statsMu.Unlock()
}
