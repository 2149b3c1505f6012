// Package testutil provides the hermetic test harness for the mirror: a
// deterministic dispatcher and an in-memory fake bus with scriptable
// objects and signal injection.
package testutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Dispatcher is a deterministic dispatch.Dispatcher for tests. Posted
// functions queue until Pump drains them on the test goroutine; Go runs
// its function inline, so fake remote calls complete synchronously and
// their continuations land in the queue.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	posted  atomic.Int64
	dead    bool
	deferGo bool
	workers []func()
}

// NewDispatcher creates a live dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Post enqueues fn for the next Pump.
func (d *Dispatcher) Post(fn func()) {
	d.posted.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return
	}
	d.queue = append(d.queue, fn)
}

// Go runs fn inline: fake bus calls return immediately. With SetDeferGo
// the function is parked instead until RunWorkers, which lets tests hold
// a remote call in flight.
func (d *Dispatcher) Go(fn func()) {
	d.mu.Lock()
	parked := d.deferGo
	if parked {
		d.workers = append(d.workers, fn)
	}
	d.mu.Unlock()
	if !parked {
		fn()
	}
}

// SetDeferGo controls whether Go parks work for RunWorkers.
func (d *Dispatcher) SetDeferGo(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deferGo = v
}

// RunWorkers executes all parked Go functions.
func (d *Dispatcher) RunWorkers() {
	d.mu.Lock()
	workers := d.workers
	d.workers = nil
	d.mu.Unlock()
	for _, fn := range workers {
		fn()
	}
}

// Alive reports whether the dispatcher still runs posted functions.
func (d *Dispatcher) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead
}

// Kill marks the dispatcher stopped; queued and future posts are dropped.
func (d *Dispatcher) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
	d.queue = nil
}

// Pump drains the queue, including functions posted while draining, and
// returns how many ran.
func (d *Dispatcher) Pump() int {
	ran := 0
	for {
		d.mu.Lock()
		if len(d.queue) == 0 || d.dead {
			d.mu.Unlock()
			return ran
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		ran++
	}
}

// PostedCount returns the total number of Post calls observed.
func (d *Dispatcher) PostedCount() int64 {
	return d.posted.Load()
}

// WaitPosted blocks until at least n total posts have been observed.
// Used to rendezvous with the signal router's pump goroutine.
func (d *Dispatcher) WaitPosted(t *testing.T, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.posted.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d posts (have %d)", n, d.posted.Load())
		}
		time.Sleep(time.Millisecond)
	}
}
