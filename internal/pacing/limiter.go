// Package pacing spaces out outbound spreadsheet traffic: a token bucket per
// spreadsheet for batched writes and a randomized pause between rows.
package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sheet-similarity/internal/metrics"
)

// DefaultLimiterIdleTTL is how long a spreadsheet's bucket survives unused.
const DefaultLimiterIdleTTL = 10 * time.Minute

// LimiterConfig holds write limiter configuration.
type LimiterConfig struct {
	RPS   float64
	Burst int
	// IdleTTL drops buckets for spreadsheets not written to for this long.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// WriteLimiter hands out write tokens per spreadsheet id.
type WriteLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewWriteLimiter creates a limiter. A non-positive RPS disables limiting.
func NewWriteLimiter(cfg LimiterConfig) *WriteLimiter {
	metrics.Init()
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultLimiterIdleTTL
	}
	// A bucket idle for less than a full refill still carries state.
	if cfg.RPS > 0 {
		if refill := time.Duration(float64(burst) / cfg.RPS * float64(time.Second)); ttl < refill {
			ttl = refill
		}
	}
	return &WriteLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		idleTTL: ttl,
		now:     time.Now,
	}
}

// Wait blocks until a token is available for key, respecting the context.
func (l *WriteLimiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	now := l.now()
	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastUsed = now
	limiter := b.limiter
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("write limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveWriteLimitDelay(waited)
	}
	return nil
}

// Len reports how many spreadsheets currently hold a bucket.
func (l *WriteLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweepLocked drops idle buckets, at most once per idle TTL.
func (l *WriteLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastUsed) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}
