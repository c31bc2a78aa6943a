package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	// PerMinute is the sustained number of events allowed per key.
	PerMinute float64
	Burst     int
	// IdleTTL drops buckets of keys that have been quiet this long.
	IdleTTL time.Duration
}

// anonymousKey is the bucket shared by callers that do not identify themselves.
const anonymousKey = "\x00anonymous"

// KeyedLimiter applies one token bucket per key. A nil *KeyedLimiter allows
// everything, so callers can leave throttling unconfigured.
type KeyedLimiter struct {
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when the configuration disables limiting.
func New(cfg Config) *KeyedLimiter {
	if cfg.PerMinute <= 0 || cfg.Burst <= 0 {
		return nil
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		limit:   rate.Limit(cfg.PerMinute / 60),
		burst:   cfg.Burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

func (l *KeyedLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = anonymousKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.sweepLocked(now)
	return allowed
}

func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}
