package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	redisClient "github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis instance so several
// backend replicas observe the same freshness state. Each entry is a
// hash; each key's logical clock is a separate counter key, kept even
// after the entry is deleted so late writes from in-flight tasks stay
// ordered. The version compare-and-set runs server-side in Lua.
type RedisStore struct {
	client *redisClient.Client
	config CacheConfig
	ctx    context.Context

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

var putScript = redisClient.NewScript(`
local ver = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < ver then
  return 0
end
redis.call('HSET', KEYS[1],
  'payload', ARGV[1],
  'computed_at', ARGV[2],
  'freshness', ARGV[3],
  'ttl_ms', ARGV[4],
  'task_id', ARGV[5],
  'stored_at', ARGV[6])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

var staleScript = redisClient.NewScript(`
redis.call('HSET', KEYS[1], 'freshness', 'STALE')
redis.call('INCR', KEYS[2])
return 1
`)

func NewRedisStore(client *redisClient.Client, config CacheConfig) *RedisStore {
	return &RedisStore{
		client: client,
		config: config,
		ctx:    context.Background(),
	}
}

func (s *RedisStore) Get(key string) (Entry, bool) {
	fields, err := s.client.HGetAll(s.ctx, s.dataKey(key)).Result()
	if err != nil || len(fields) == 0 {
		s.recordMiss()
		return Entry{Freshness: FreshnessMissing}, false
	}

	entry := parseEntryFields(fields)
	entry.Freshness = entry.EffectiveFreshness(time.Now())
	s.recordHit()
	return entry, true
}

func (s *RedisStore) Put(key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	if entry.Freshness == "" {
		entry.Freshness = FreshnessFresh
	}

	ok, err := putScript.Run(s.ctx, s.client,
		[]string{s.dataKey(key), s.versionKey(key)},
		string(entry.Payload),
		strconv.FormatInt(entry.ComputedAt, 10),
		string(entry.Freshness),
		strconv.FormatInt(entry.TTL.Milliseconds(), 10),
		entry.SourceTaskID,
		strconv.FormatInt(entry.StoredAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	if ok == 0 {
		return ErrSuperseded
	}
	return nil
}

func (s *RedisStore) MarkStale(pattern string) (int, error) {
	keys, err := s.scanKeys(pattern)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := staleScript.Run(s.ctx, s.client,
			[]string{s.dataKey(key), s.versionKey(key)}).Err(); err != nil {
			return 0, fmt.Errorf("failed to mark %s stale: %w", key, err)
		}
	}
	return len(keys), nil
}

func (s *RedisStore) Delete(pattern string) (int, error) {
	keys, err := s.scanKeys(pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Del(s.ctx, s.dataKey(key))
		pipe.Incr(s.ctx, s.versionKey(key))
	}
	if _, err := pipe.Exec(s.ctx); err != nil {
		return 0, fmt.Errorf("failed to delete matching entries: %w", err)
	}

	s.statsMu.Lock()
	s.evictions += int64(len(keys))
	s.statsMu.Unlock()
	return len(keys), nil
}

func (s *RedisStore) Version(key string) (int64, error) {
	val, err := s.client.Get(s.ctx, s.versionKey(key)).Result()
	if err == redisClient.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version for %s: %w", key, err)
	}
	return strconv.ParseInt(val, 10, 64)
}

func (s *RedisStore) Keys() ([]string, error) {
	return s.scanKeys("*")
}

func (s *RedisStore) Stats() Stats {
	s.statsMu.Lock()
	hits, misses, evictions := s.hits, s.misses, s.evictions
	s.statsMu.Unlock()

	keyCount, staleCount := 0, 0
	now := time.Now()
	if keys, err := s.scanKeys("*"); err == nil {
		keyCount = len(keys)
		for _, key := range keys {
			if entry, found := s.Get(key); found && entry.EffectiveFreshness(now) == FreshnessStale {
				staleCount++
			}
		}
	}

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

func (s *RedisStore) Close() error {
	return nil // the shared client is owned by its own package
}

func (s *RedisStore) dataKey(key string) string {
	return s.config.KeyPrefix + key
}

func (s *RedisStore) versionKey(key string) string {
	return s.config.VersionKeys + key
}

// scanKeys returns canonical keys (prefix stripped) matching a glob.
func (s *RedisStore) scanKeys(pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(s.ctx, 0, s.config.KeyPrefix+pattern, 0).Iterator()
	for iter.Next(s.ctx) {
		keys = append(keys, iter.Val()[len(s.config.KeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return keys, nil
}

func parseEntryFields(fields map[string]string) Entry {
	computedAt, _ := strconv.ParseInt(fields["computed_at"], 10, 64)
	ttlMs, _ := strconv.ParseInt(fields["ttl_ms"], 10, 64)
	storedAtNs, _ := strconv.ParseInt(fields["stored_at"], 10, 64)

	return Entry{
		Payload:      []byte(fields["payload"]),
		ComputedAt:   computedAt,
		Freshness:    Freshness(fields["freshness"]),
		TTL:          time.Duration(ttlMs) * time.Millisecond,
		SourceTaskID: fields["task_id"],
		StoredAt:     time.Unix(0, storedAtNs),
	}
}

func (s *RedisStore) recordHit() {
	s.statsMu.Lock()
	s.hits++
	s.statsMu.Unlock()
}

func (s *RedisStore) recordMiss() {
	s.statsMu.Lock()
	s.misses++
	s.statsMu.Unlock()
}
