package engine

import (
	"sync"
	"time"
)

type dedupeEntry struct {
	count int
	end   time.Time
}

// DedupeCache remembers the largest count reported for each incident key.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]dedupeEntry
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]dedupeEntry)}
}

// Check records count for key. seen is false the first time a key appears;
// grew is true when a known key comes back with a larger count. end is the
// run's last timestamp and drives PruneBefore.
func (d *DedupeCache) Check(key string, count int, end time.Time) (seen, grew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.items[key]
	if !ok {
		d.items[key] = dedupeEntry{count: count, end: end}
		return false, false
	}
	if count > prev.count {
		d.items[key] = dedupeEntry{count: count, end: end}
		return true, true
	}
	return true, false
}

// PruneBefore forgets runs that ended before cutoff.
func (d *DedupeCache) PruneBefore(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key, it := range d.items {
		if it.end.Before(cutoff) {
			delete(d.items, key)
			removed++
		}
	}
	return removed
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[string]dedupeEntry)
}
