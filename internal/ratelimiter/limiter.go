// Package ratelimiter implements the sender rate limiter (§4.7 step 2): a
// token bucket per agent address, MAX_REQ_PER_MIN=10, window 60s.
// Grounded on the teacher's ratelimit.RateLimiter sliding-window shape
// (per-key state behind a mutex, periodic reset), generalized onto
// golang.org/x/time/rate instead of a hand-rolled timestamp slice so the
// bucket drains continuously instead of resetting in discrete windows.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultReqPerMin = 10
	DefaultWindow    = time.Minute
)

type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perMin    int
	lastSeen  map[string]time.Time
}

func New(reqPerMin int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		perMin:   reqPerMin,
	}
}

// Allow reports whether key (the agent address) may make another request
// right now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// RetryAfter estimates the wait until the next token is available for key.
func (l *Limiter) RetryAfter(key string) time.Duration {
	res := l.limiterFor(key).Reserve()
	defer res.Cancel()
	return res.Delay()
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeen[key] = time.Now()
	lim, ok := l.limiters[key]
	if !ok {
		perSecond := float64(l.perMin) / DefaultWindow.Seconds()
		lim = rate.NewLimiter(rate.Limit(perSecond), l.perMin)
		l.limiters[key] = lim
	}
	return lim
}

// Sweep drops per-key limiters idle longer than olderThan, bounding memory
// growth from one-off agent addresses.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for key, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
			count++
		}
	}
	return count
}
