package gateway

import (
	"sync"
	"time"
)

// RateLimiter caps message turns per identity per minute. Every turn
// costs a completion call, so the cap protects the external service
// from a runaway client; join/leave events are not limited.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientLimit
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per minute
// per identity.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether email may send another message this minute.
// Each call sweeps expired windows first, so the map only ever holds
// identities seen within the last minute.
func (rl *RateLimiter) Allow(email string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.evictStale(now)

	limit, exists := rl.clients[email]
	if !exists || now.Sub(limit.windowStart) >= time.Minute {
		rl.clients[email] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// evictStale drops windows older than a minute. Callers hold rl.mu.
func (rl *RateLimiter) evictStale(now time.Time) {
	for email, limit := range rl.clients {
		if now.Sub(limit.windowStart) >= time.Minute {
			delete(rl.clients, email)
		}
	}
}
