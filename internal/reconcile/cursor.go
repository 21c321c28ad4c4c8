package reconcile

import (
	"sync"
	"time"
)

// Cursor tracks the point the reconciler has processed up to. Replay runs
// share it between the driver goroutine and the reconciliation loop, so all
// access goes through the mutex.
type Cursor struct {
	mu sync.Mutex
	at time.Time
}

// Advance moves the cursor forward. Moves backwards are ignored.
func (c *Cursor) Advance(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.at) {
		c.at = ts
	}
}

// Current returns the cursor's position.
func (c *Cursor) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}
