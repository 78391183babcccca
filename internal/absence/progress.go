package absence

import "sync"

// ProgressTracker remembers the latest progress report so it can be served
// while a run executes. Its Record method is a ProgressFunc.
type ProgressTracker struct {
	mu     sync.RWMutex
	latest Progress
	seen   bool
}

// Record stores p as the latest report.
func (t *ProgressTracker) Record(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = p
	t.seen = true
}

// Latest returns the most recent report, or false before the first one.
func (t *ProgressTracker) Latest() (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.seen
}
