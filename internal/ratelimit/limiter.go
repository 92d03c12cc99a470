// Package ratelimit implements per-caller token buckets for the API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleTTL = 10 * time.Minute

// Config mirrors the ratelimit section: Requests per Period, per caller.
type Config struct {
	Enabled  bool
	Requests int
	Period   time.Duration
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	disabled bool
	now      func() time.Time
	lastScan time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter. A disabled or zero config allows everything.
func New(cfg Config) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	if !cfg.Enabled || cfg.Requests <= 0 || cfg.Period <= 0 {
		l.disabled = true
		return l
	}
	l.limit = rate.Limit(float64(cfg.Requests) / cfg.Period.Seconds())
	l.burst = cfg.Requests
	return l
}

// Allow consumes a token for key and reports whether the call may proceed.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.disabled {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.sweep(now)
	return b.limiter.AllowN(now, 1)
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle for longer than idleTTL. Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastScan) < idleTTL {
		return
	}
	l.lastScan = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, key)
		}
	}
}
