package api

import (
	"sync"
	"time"

	"fieldsync/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultBurst = 5
	// maxBuckets bounds the table when auth is off and callers are keyed by address.
	maxBuckets = 1024
	bucketIdle = 10 * time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per API client. A zero rate disables it.
type rateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &rateLimiter{
		rps:     rate.Limit(cfg.RPS),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxBuckets {
			l.evictIdle(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// evictIdle drops buckets unused for bucketIdle. Callers hold l.mu.
func (l *rateLimiter) evictIdle(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= bucketIdle {
			delete(l.buckets, key)
		}
	}
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
