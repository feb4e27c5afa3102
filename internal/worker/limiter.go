// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// Limiter holds one token bucket per external service.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter whose buckets refill at requestsPerSecond.
// A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// LimiterFor builds a limiter with the default bucket from cfg and one
// override per entry in cfg.Services.
func LimiterFor(cfg types.RateLimitConfig) *Limiter {
	l := NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	for key, r := range cfg.Services {
		l.SetRate(key, r.RequestsPerSecond, r.Burst)
	}
	return l
}

// Wait blocks until the named service has a token or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, service string) error {
	if l == nil {
		return ctx.Err()
	}
	return l.get(service).Wait(ctx)
}

func (l *Limiter) get(service string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[service]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[service]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[service] = limiter
	return limiter
}

// SetRate overrides the bucket for one service.
func (l *Limiter) SetRate(service string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.limiters[service] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
