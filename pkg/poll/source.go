// Package poll provides read-readiness event sources for socket descriptors.
//
// A Source watches one descriptor from its own goroutine. Handlers run on
// that goroutine, so they never overlap: Register runs first, Event runs once
// per readiness notification, and Cancel runs last, after which the source
// never touches the descriptor again.
package poll

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Handlers are the callbacks of a Source. All of them are optional.
type Handlers struct {
	// Register runs once before the first wait.
	Register func()
	// Event runs whenever the descriptor is readable.
	Event func()
	// Cancel runs once the source stopped.
	Cancel func()
	// Error receives failures of the wait itself. The source stops afterwards.
	Error func(error)
}

// Source delivers read-readiness notifications for a descriptor.
type Source struct {
	fd       int
	handlers Handlers

	pipeMu     sync.Mutex
	pipeClosed bool
	wakeR      int
	wakeW      int

	resumeOnce sync.Once
	cancelOnce sync.Once
	cancelled  atomic.Bool
	done       chan struct{}
}

// NewReadSource creates a suspended source for fd.
func NewReadSource(fd int, h Handlers) (*Source, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, end := range p {
		unix.CloseOnExec(end)
		if err := unix.SetNonblock(end, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("fcntl(O_NONBLOCK): %w", err)
		}
	}

	return &Source{
		fd:       fd,
		handlers: h,
		wakeR:    p[0],
		wakeW:    p[1],
		done:     make(chan struct{}),
	}, nil
}

// Resume starts delivering notifications. Only the first call has an effect.
func (s *Source) Resume() {
	s.resumeOnce.Do(func() {
		go s.run()
	})
}

// Cancel stops the source. The Cancel handler runs asynchronously on the
// source goroutine; Done is closed after it returned. Cancel never interrupts
// a running Event handler.
func (s *Source) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		s.wake()
		// a source that was never resumed still owes its cancel handler
		s.Resume()
	})
}

// Cancelled reports whether Cancel was called.
func (s *Source) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed once the source has stopped and its Cancel handler returned.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run() {
	defer close(s.done)
	defer s.closePipe()
	defer func() {
		if s.handlers.Cancel != nil {
			s.handlers.Cancel()
		}
	}()

	if s.handlers.Register != nil && !s.cancelled.Load() {
		s.handlers.Register()
	}

	fds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.wakeR), Events: unix.POLLIN},
	}
	for !s.cancelled.Load() {
		fds[0].Revents, fds[1].Revents = 0, 0

		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			s.fail(fmt.Errorf("poll: %w", err))
			return
		}

		if fds[1].Revents != 0 || s.cancelled.Load() {
			return
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			s.fail(fmt.Errorf("poll: descriptor %d is not open", s.fd))
			return
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 && s.handlers.Event != nil {
			s.handlers.Event()
		}
	}
}

func (s *Source) wake() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if !s.pipeClosed {
		_, _ = unix.Write(s.wakeW, []byte{1})
	}
}

func (s *Source) closePipe() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	s.pipeClosed = true
}

func (s *Source) fail(err error) {
	s.cancelled.Store(true)
	if s.handlers.Error != nil {
		s.handlers.Error(err)
	}
}
