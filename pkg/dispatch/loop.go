// Package dispatch provides the single-threaded cooperative scheduler the
// mirror runs on. All library state is owned by one Loop; remote calls run
// on worker goroutines and complete by posting continuations back to it.
package dispatch

import (
	"context"
	"sync"
)

// Dispatcher is the scheduling surface components depend on. Production
// code uses Loop; tests use a deterministic dispatcher whose posted
// functions queue until the test drains them.
type Dispatcher interface {
	// Post enqueues fn to run on the dispatch thread. Safe to call from
	// any goroutine. Posting to a stopped dispatcher is a no-op.
	Post(fn func())

	// Go runs fn off the dispatch thread. Blocking remote calls run
	// here and complete by posting their continuation.
	Go(fn func())

	// Alive reports whether the dispatcher still runs posted functions.
	// Continuations check this before touching state.
	Alive() bool
}

// Loop runs posted functions on a single goroutine.
type Loop struct {
	queue chan func()

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewLoop creates a loop. Run must be called for posted functions to
// execute.
func NewLoop() *Loop {
	return &Loop{
		queue: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run executes posted functions until ctx is cancelled or Stop is called.
// It blocks; callers normally run it on a dedicated goroutine.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.markStopped()
			return
		case fn, ok := <-l.queue:
			if !ok {
				return
			}
			fn()
			if !l.Alive() {
				return
			}
		}
	}
}

// Post enqueues fn. Functions posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Go runs fn on its own goroutine.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Alive reports whether the loop still accepts work.
func (l *Loop) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped
}

// Stop shuts the loop down. Pending functions are dropped; in-flight
// continuations observe Alive() == false and return without side effects.
func (l *Loop) Stop() {
	l.markStopped()
	// Wake Run if it is blocked on an empty queue.
	select {
	case l.queue <- func() {}:
	default:
	}
	<-l.done
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

// Sync posts fn and waits for it to complete. Returns false without
// running fn if the loop is stopped. Must not be called from the loop
// goroutine itself.
func (l *Loop) Sync(fn func()) bool {
	if !l.Alive() {
		return false
	}
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}
