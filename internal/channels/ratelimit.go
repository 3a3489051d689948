package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked senders to prevent
	// memory exhaustion from many distinct users.
	maxTrackedKeys = 4096

	// limiterIdleTTL is how long an unused limiter is kept before pruning.
	limiterIdleTTL = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// InboundLimiter throttles inbound messages per sender before they reach the relay.
// Safe for concurrent use.
type InboundLimiter struct {
	mu      sync.Mutex
	entries map[int64]*limiterEntry
	limit   rate.Limit
	burst   int
}

// NewInboundLimiter allows rpm messages per minute per sender with the given burst.
// rpm <= 0 disables limiting.
func NewInboundLimiter(rpm, burst int) *InboundLimiter {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Inf
	if rpm > 0 {
		lim = rate.Every(time.Minute / time.Duration(rpm))
	}
	return &InboundLimiter{
		entries: make(map[int64]*limiterEntry),
		limit:   lim,
		burst:   burst,
	}
}

// Allow reports whether the sender is within limits.
// Prunes idle entries and enforces a hard cap on tracked senders.
func (r *InboundLimiter) Allow(senderID int64) bool {
	if r.limit == rate.Inf {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= limiterIdleTTL {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[senderID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(r.limit, r.burst)}
		r.entries[senderID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}
