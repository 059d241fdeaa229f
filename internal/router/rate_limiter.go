package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-user rate limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimit
}

// clientLimit is one user's token bucket
type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute messages per user with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether userID may send a message now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.clients[userID]
	if !exists {
		c = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[userID] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Cleanup removes users idle for longer than idle (call periodically)
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	now := time.Now()
	for userID, c := range rl.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}
