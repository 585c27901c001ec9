package ratelimit

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides per-host rate limiting using token bucket algorithm
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a rate limiter; every host gets its own bucket of rps and burst
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// getLimiter returns or creates a rate limiter for the specified host
func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow returns true if a request for the specified host is allowed now
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request for the specified host is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// HostStats is the bucket state of one host
type HostStats struct {
	Host            string  `json:"host"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// Throttled reports whether the next request would have to wait
func (s HostStats) Throttled() bool {
	return s.TokensAvailable < 1
}

// Stats returns the state of every host seen so far, sorted by host
func (l *Limiter) Stats() []HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make([]HostStats, 0, len(l.limiters))
	for host, limiter := range l.limiters {
		stats = append(stats, HostStats{
			Host:            host,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Host < stats[j].Host })
	return stats
}

// Reset clears all host limiters
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters = make(map[string]*rate.Limiter)
}
