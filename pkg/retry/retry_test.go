package retry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestRetrier_GivesUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		maxAttempts  int
		wantAttempts int
	}{
		{"one", 1, 2},
		{"three", 3, 4},
		{"five", 5, 6},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			errFail := errors.New("fail")
			var calls int32
			var final error
			done := make(chan struct{})

			r := New(fastPolicy(tc.maxAttempts), func(report Report) {
				atomic.AddInt32(&calls, 1)
				if !report(errFail) {
					final = errFail
					close(done)
				}
			})
			r.Resume()
			waitFor(t, done)

			// nothing else may run after giving up
			time.Sleep(20 * time.Millisecond)

			if got := atomic.LoadInt32(&calls); int(got) != tc.wantAttempts {
				t.Errorf("action ran %d times; want %d", got, tc.wantAttempts)
			}
			if r.Attempts() != tc.wantAttempts {
				t.Errorf("Attempts() = %d; want %d", r.Attempts(), tc.wantAttempts)
			}
			if r.State() != GaveUp {
				t.Errorf("State() = %s; want %s", r.State(), GaveUp)
			}
			if r.Running() {
				t.Error("Running() = true after giving up")
			}
			if !errors.Is(final, errFail) {
				t.Errorf("final error = %v; want %v", final, errFail)
			}
		})
	}
}

func TestRetrier_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var tries atomic.Int32
	done := make(chan struct{})
	r := New(fastPolicy(0), func(report Report) {
		// report from another goroutine, like an async connect would
		go func() {
			if tries.Add(1) < 3 {
				report(errors.New("not yet"))
				return
			}
			report(nil)
			close(done)
		}()
	})
	r.Resume()
	waitFor(t, done)

	if r.Attempts() != 3 {
		t.Errorf("Attempts() = %d; want 3", r.Attempts())
	}
	if r.State() != Succeeded {
		t.Errorf("State() = %s; want %s", r.State(), Succeeded)
	}
}

func TestRetrier_NeverConcurrent(t *testing.T) {
	t.Parallel()

	var active, maxActive, calls int32
	done := make(chan struct{})

	r := New(Policy{BaseDelay: time.Microsecond, Multiplier: 1, MaxDelay: time.Microsecond, MaxAttempts: 20},
		func(report Report) {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&calls, 1)
			if !report(errors.New("again")) {
				close(done)
			}
		})
	r.Resume()
	waitFor(t, done)

	if maxActive != 1 {
		t.Errorf("max concurrent attempts = %d; want 1", maxActive)
	}
	if calls != 21 {
		t.Errorf("calls = %d; want 21", calls)
	}
}

func TestRetrier_Cancel(t *testing.T) {
	t.Parallel()

	var calls int32
	first := make(chan struct{})
	var once sync.Once

	p := Policy{BaseDelay: 50 * time.Millisecond, Multiplier: 1, MaxDelay: 50 * time.Millisecond}
	r := New(p, func(report Report) {
		atomic.AddInt32(&calls, 1)
		report(errors.New("fail"))
		once.Do(func() { close(first) })
	})
	r.Resume()
	waitFor(t, first)

	r.Cancel()
	time.Sleep(150 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("action ran %d times after cancel; want 1", got)
	}
	if r.State() != Cancelled {
		t.Errorf("State() = %s; want %s", r.State(), Cancelled)
	}
	if r.Running() {
		t.Error("Running() = true after Cancel")
	}
}

func TestRetrier_CancelDuringAttempt(t *testing.T) {
	t.Parallel()

	var r *Retrier
	var more bool
	done := make(chan struct{})

	r = New(fastPolicy(0), func(report Report) {
		r.Cancel()
		more = report(errors.New("fail"))
		close(done)
	})
	r.Resume()
	waitFor(t, done)

	if more {
		t.Error("report() scheduled a retry after Cancel")
	}
	if r.Attempts() != 1 {
		t.Errorf("Attempts() = %d; want 1", r.Attempts())
	}
}

func TestRetrier_ReportOnce(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	var second bool

	r := New(fastPolicy(0), func(report Report) {
		report(nil)
		second = report(errors.New("late"))
		close(done)
	})
	r.Resume()
	waitFor(t, done)

	if second {
		t.Error("second report() call scheduled a retry")
	}
	if r.State() != Succeeded {
		t.Errorf("State() = %s; want %s", r.State(), Succeeded)
	}
}

func TestRetrier_ResumeTwice(t *testing.T) {
	t.Parallel()

	var calls int32
	done := make(chan struct{})
	r := New(fastPolicy(0), func(report Report) {
		atomic.AddInt32(&calls, 1)
		report(nil)
		close(done)
	})

	if r.State() != Idle {
		t.Fatalf("State() = %s before Resume; want %s", r.State(), Idle)
	}
	r.Resume()
	waitFor(t, done)
	r.Resume()
	time.Sleep(10 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("action ran %d times; want 1", got)
	}
}
