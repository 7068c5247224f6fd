package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-user fixed window rate limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*ClientLimit
}

// ClientLimit tracks rate limiting for a single user
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per user per minute.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow checks and records one message for userID.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes entries idle for more than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
