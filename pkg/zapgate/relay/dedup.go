// Package relay – dedup.go suppresses duplicate message events inside a
// short window, keyed by (phone, message). A flapping socket can replay
// the same upsert; the host keys its transcript on the same tuple, so the
// relay drops the duplicate before it leaves the process.
package relay

import (
	"sync"
	"time"
)

// Deduper tracks recently seen (phone, message) pairs.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduper creates a deduper with the given suppression window.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Duplicate records the pair and reports whether an identical pair was
// already seen inside the window.
func (d *Deduper) Duplicate(phone, message string) bool {
	key := phone + "\x00" + message
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[key] = now
	return false
}

// Purge drops entries older than the window. Called periodically so the
// map does not grow with traffic.
func (d *Deduper) Purge() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, last := range d.seen {
		if now.Sub(last) >= d.window {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked entries.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
