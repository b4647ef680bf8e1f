package ratelimit

import (
	"sync"
	"time"
)

// RateLimit defines the budget for one endpoint class.
type RateLimit struct {
	RequestsPerMinute int           `json:"requestsPerMinute"`
	BurstSize         int           `json:"burstSize"`
	WindowSize        time.Duration `json:"windowSize"`
}

// RateLimiter is the contract the middleware consumes.
type RateLimiter interface {
	// Allow reports whether the client may proceed against the
	// endpoint, and when the bucket next refills if not.
	Allow(clientID, endpoint string) (bool, time.Time, error)
	Limit(endpoint string) RateLimit
}

// MemoryLimiter is a per-client token bucket limiter. Buckets refill
// continuously at the endpoint's per-minute rate up to its burst size.
type MemoryLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	limits       map[string]RateLimit
	defaultLimit RateLimit
	lastSweep    time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

func NewMemoryLimiter(limits map[string]RateLimit, defaultLimit RateLimit) *MemoryLimiter {
	if defaultLimit.RequestsPerMinute <= 0 {
		defaultLimit = RateLimit{RequestsPerMinute: 60, BurstSize: 15, WindowSize: time.Minute}
	}
	if limits == nil {
		limits = make(map[string]RateLimit)
	}
	return &MemoryLimiter{
		buckets:      make(map[string]*bucket),
		limits:       limits,
		defaultLimit: defaultLimit,
		lastSweep:    time.Now(),
	}
}

func (l *MemoryLimiter) Limit(endpoint string) RateLimit {
	if limit, ok := l.limits[endpoint]; ok {
		return limit
	}
	return l.defaultLimit
}

func (l *MemoryLimiter) Allow(clientID, endpoint string) (bool, time.Time, error) {
	limit := l.Limit(endpoint)
	rate := float64(limit.RequestsPerMinute) / 60.0
	burst := float64(limit.BurstSize)
	if burst <= 0 {
		burst = 1
	}

	now := time.Now()
	key := clientID + "|" + endpoint

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, lastFill: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastFill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, now, nil
	}

	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, now.Add(wait), nil
}

// sweepLocked drops buckets idle long enough to be full again.
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < 5*time.Minute {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > 10*time.Minute {
			delete(l.buckets, key)
		}
	}
}
