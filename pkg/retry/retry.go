// Package retry runs an action until it succeeds, waiting with truncated
// exponential backoff between failed attempts.
package retry

import (
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/queue"
)

// State is the lifecycle position of a Retrier.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	GaveUp
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case GaveUp:
		return "gave-up"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Report is how an attempt tells the retrier its outcome. A nil error ends
// the session. The result reports whether another attempt was scheduled;
// false for a failure means the caller owns the final error.
// Only the first call per attempt counts.
type Report func(err error) bool

// Action performs one attempt. It must call report exactly once, possibly
// from another goroutine.
type Action func(report Report)

// Option customizes a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger for attempt tracing.
func WithLogger(l *log.Logger) Option {
	return func(r *Retrier) { r.logger = l }
}

// WithLabel names the retrier in log messages.
func WithLabel(label string) Option {
	return func(r *Retrier) { r.label = label }
}

// Retrier is a single retry session.
type Retrier struct {
	policy Policy
	action Action
	logger *log.Logger
	label  string
	q      *queue.Serial

	running atomic.Bool

	mu       sync.Mutex
	state    State
	attempts int
	timer    *time.Timer
}

// New creates an idle retrier.
func New(policy Policy, action Action, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy,
		action: action,
		label:  "retrier",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.q = queue.New(r.label)
	return r
}

// Resume starts the session and schedules the first attempt immediately.
// Calls on a retrier that is not idle are ignored.
func (r *Retrier) Resume() {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return
	}
	r.state = Running
	r.running.Store(true)
	r.mu.Unlock()

	r.q.Async(r.attempt)
}

// Cancel stops the session. An attempt that is executing is not interrupted
// but its outcome no longer schedules anything.
func (r *Retrier) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle && r.state != Running {
		return
	}
	r.state = Cancelled
	r.running.Store(false)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.logger.VerboseMsg("%s: cancelled after %d attempts\n", r.label, r.attempts)
}

// Running reports whether the session may still schedule attempts.
func (r *Retrier) Running() bool {
	return r.running.Load()
}

// Attempts returns the number of attempts started so far.
func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// State returns the current lifecycle state.
func (r *Retrier) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Policy returns the backoff policy of the session.
func (r *Retrier) Policy() Policy {
	return r.policy
}

func (r *Retrier) attempt() {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.attempts++
	n := r.attempts
	r.mu.Unlock()

	r.logger.VerboseMsg("%s: attempt %d\n", r.label, n)

	var reported atomic.Bool
	r.action(func(err error) bool {
		if !reported.CompareAndSwap(false, true) {
			return false
		}
		return r.report(n, err)
	})
}

func (r *Retrier) report(n int, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Running {
		return false
	}

	if err == nil {
		r.state = Succeeded
		r.running.Store(false)
		r.logger.VerboseMsg("%s: attempt %d succeeded\n", r.label, n)
		return false
	}

	if r.policy.MaxAttempts > 0 && r.attempts > r.policy.MaxAttempts {
		r.state = GaveUp
		r.running.Store(false)
		r.logger.VerboseMsg("%s: giving up after %d attempts: %s\n", r.label, r.attempts, err)
		return false
	}

	delay := r.policy.Delay(r.attempts - 1)
	r.logger.VerboseMsg("%s: attempt %d failed: %s, retrying in %s\n", r.label, n, err, delay)
	r.timer = r.q.After(delay, r.attempt)
	return true
}
