package notify

import (
	"sync"
	"time"
)

// expiryClock is a tiny thread-safe deadline latch. Mark arms it for a
// window; Expired reports whether the window has passed. The zero value is
// already expired.
type expiryClock struct {
	mu       sync.Mutex
	deadline time.Time
}

func (c *expiryClock) Mark(window time.Duration) {
	c.mu.Lock()
	c.deadline = time.Now().Add(window)
	c.mu.Unlock()
}

func (c *expiryClock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.deadline)
}
