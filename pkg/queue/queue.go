// Package queue provides serial execution contexts: FIFO task queues that run
// at most one task at a time.
//
// A Serial spawns a worker goroutine only while it has pending tasks, so an
// idle queue holds no goroutine and needs no explicit shutdown.
package queue

import (
	"sync"
	"time"
)

// Serial runs submitted tasks one at a time, in submission order.
type Serial struct {
	label string

	mu      sync.Mutex
	tasks   []func()
	running bool
}

// New creates an empty serial queue. The label only shows up in String.
func New(label string) *Serial {
	return &Serial{label: label}
}

func (q *Serial) String() string {
	return "queue(" + q.label + ")"
}

// Async appends fn to the queue and returns immediately.
func (q *Serial) Async(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

// After schedules fn on the queue once d has elapsed. Stopping the returned
// timer before it fires cancels the task.
func (q *Serial) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { q.Async(fn) })
}

// Sync runs fn on the queue and waits for it to finish. Calling Sync from a
// task of the same queue deadlocks.
func (q *Serial) Sync(fn func()) {
	done := make(chan struct{})
	q.Async(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (q *Serial) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
