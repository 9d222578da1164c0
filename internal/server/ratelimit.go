package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// rateLimiter counts the transactions of one peer in fixed windows.
type rateLimiter struct {
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu    sync.Mutex
	count int
	start time.Time
}

// newRateLimiter returns nil when limit or window is not positive; a nil
// limiter allows everything.
func newRateLimiter(clock clockwork.Clock, limit int, window time.Duration) *rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &rateLimiter{clock: clock, limit: limit, window: window, start: clock.Now()}
}

func (l *rateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if now.Sub(l.start) >= l.window {
		l.count = 0
		l.start = now
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}
