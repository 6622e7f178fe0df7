// Package mainloop provides the single serial execution context that owns
// all activity state. Work posted from any goroutine runs one item at a time,
// in the order it was posted.
package mainloop

import (
	"context"
	"sync"
)

// Loop is a FIFO executor backed by one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
}

// New creates an idle loop. Call Run or Start to begin draining it.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post enqueues fn and returns immediately. It never blocks, so it is safe to
// call from inside a function already running on the loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do enqueues fn and waits until it has run. Do must not be called from a
// function that is itself running on the loop.
func (l *Loop) Do(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

// Run drains the queue until ctx is cancelled. Work still queued at
// cancellation is dropped.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Start runs the loop on its own goroutine and returns a function that stops
// it and waits for the goroutine to exit.
func (l *Loop) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		l.Run(ctx)
	}()
	return func() {
		cancel()
		<-exited
	}
}

// Pending reports how many functions are waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
