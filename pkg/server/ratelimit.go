package server

import (
	"sync"
	"time"
)

// rateWindow is a rolling-window counter. Allow records an event and reports
// whether the caller stayed within limit events per window. The mechanism is
// core behavior; the thresholds come from configuration.
type rateWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// Allow records one event at now and reports whether the window still has
// room. The event is counted even when rejected, so a client hammering the
// limit stays limited.
func (w *rateWindow) Allow(now time.Time, window time.Duration, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = append(kept, now)
	return len(w.times) <= limit
}

// Reset clears the window.
func (w *rateWindow) Reset() {
	w.mu.Lock()
	w.times = nil
	w.mu.Unlock()
}
