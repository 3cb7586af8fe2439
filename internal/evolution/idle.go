package evolution

import (
	"sync"
	"time"
)

// ActivityTracker is the default IdleChecker: the Orchestrator Loop calls
// Touch() on every dispatch or query, and the Scheduler reads IdleFor()
// to decide whether jobs are eligible to run.
type ActivityTracker struct {
	mu       sync.Mutex
	lastSeen time.Time
	now      func() time.Time
}

// NewActivityTracker creates a tracker considered active as of now.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{lastSeen: time.Now(), now: time.Now}
}

// Touch records activity at the current time.
func (a *ActivityTracker) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSeen = a.now()
}

// IdleFor returns how long it has been since the last Touch.
func (a *ActivityTracker) IdleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Sub(a.lastSeen)
}
