package sync

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of identical work. A rapid run of synchronize
// events for one PR collapses into a single review of the final head commit:
// each Add for a key resets that key's timer, and only the last scheduled
// function runs once the burst goes quiet for a full TTL.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	ttl     time.Duration
}

func NewDebouncer(ttl time.Duration) *Debouncer {
	return &Debouncer{
		pending: make(map[string]*time.Timer),
		ttl:     ttl,
	}
}

// Add schedules fn to run after the TTL, replacing any function still pending
// for the same key.
func (d *Debouncer) Add(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
	}

	d.pending[key] = time.AfterFunc(d.ttl, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()

		fn()
	})
}

// Cancel drops a pending function without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports how many keys are waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
