package pipeline

import (
	"sync"
	"time"
)

// Dedup suppresses repeat webhook-triggered runs for the same lead inside a
// sliding window. HubSpot fires several property-change events per lead
// creation; only the first should start a run.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewDedup returns an empty dedup window.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]time.Time), now: time.Now}
}

// Recently reports whether leadID was begun within the window, recording it
// as begun when it was not. Expired entries are pruned lazily on each call.
func (d *Dedup) Recently(leadID string, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, t := range d.seen {
		if now.Sub(t) >= window {
			delete(d.seen, id)
		}
	}

	if t, ok := d.seen[leadID]; ok && now.Sub(t) < window {
		return true
	}
	d.seen[leadID] = now
	return false
}
