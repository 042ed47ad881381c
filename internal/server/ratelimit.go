package server

import (
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket guarding the mutating admin
// endpoints. A runaway automation loop hammering /api/v1/cutover should be
// throttled before it reaches the orchestrator's single-flight guard.
type rateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
	stopCh         chan struct{}
	stopOnce       sync.Once

	now func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func newRateLimiter(requestsPerMin int) *rateLimiter {
	rl := &rateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		stopCh:         make(chan struct{}),
		now:            time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// wrap enforces the limit in front of a handler, keyed by client address.
func (rl *rateLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.clients[client]
	if !exists {
		rl.clients[client] = &bucket{
			tokens:     rl.requestsPerMin - 1,
			lastRefill: now,
		}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(b.lastRefill)
	tokensToAdd := int(elapsed.Minutes() * float64(rl.requestsPerMin))
	if tokensToAdd > 0 {
		b.tokens = min(rl.requestsPerMin, b.tokens+tokensToAdd)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// cleanupLoop drops clients that have been idle for 10 minutes.
func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for client, b := range rl.clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(rl.clients, client)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
