// Package debounce coalesces bursts of keyed work into one trailing call.
package debounce

import (
	"sync"
	"time"

	"reelgraph/internal/clock"
)

// DefaultDelay is the quiet window used for node position writes
const DefaultDelay = 500 * time.Millisecond

// Debouncer runs, per key, only the last function scheduled within a quiet
// window of Delay.
type Debouncer struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	pending map[string]*entry
}

type entry struct {
	timer clock.Timer
	fn    func()
}

// New creates a debouncer. A zero delay uses DefaultDelay.
func New(c clock.Clock, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		clock:   c,
		delay:   delay,
		pending: make(map[string]*entry),
	}
}

// Schedule cancels any pending call for key and arms a new one
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
	}
	e := &entry{fn: fn}
	e.timer = d.clock.AfterFunc(d.delay, func() { d.fire(key, e) })
	d.pending[key] = e
}

// Cancel drops the pending call for key, if any
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pending[key]; ok {
		e.timer.Stop()
		delete(d.pending, key)
	}
}

// Flush runs every pending call immediately, in no particular order. A
// timer that already fired but has not reached fire yet is covered too:
// removing the entry turns that late fire into a no-op.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		fns = append(fns, e.fn)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stop cancels every pending call
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending returns the number of keys with a scheduled call
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) fire(key string, e *entry) {
	d.mu.Lock()
	if d.pending[key] != e {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	e.fn()
}
