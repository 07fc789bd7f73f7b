package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter admits at most a fixed number of requests per client per
// one-minute window.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	clients           map[string]*clientWindow
	now               func() time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		clients:           make(map[string]*clientWindow),
		now:               time.Now,
	}
}

// Allow records a request from clientID or returns a *RateLimitError.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	win, ok := rl.clients[clientID]
	if !ok || now.Sub(win.start) >= time.Minute {
		win = &clientWindow{start: now}
		rl.clients[clientID] = win
	}
	if win.count >= rl.requestsPerMinute {
		return &RateLimitError{
			Limit:      rl.requestsPerMinute,
			RetryAfter: time.Minute - now.Sub(win.start),
		}
	}
	win.count++
	rl.prune(now)
	return nil
}

// prune drops windows that ended over a minute ago.
func (rl *RateLimiter) prune(now time.Time) {
	if len(rl.clients) < 1024 {
		return
	}
	for id, win := range rl.clients {
		if now.Sub(win.start) >= 2*time.Minute {
			delete(rl.clients, id)
		}
	}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d per minute, retry after: %v)", e.Limit, e.RetryAfter.Round(time.Second))
}
