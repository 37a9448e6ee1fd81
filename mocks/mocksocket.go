package mocks

import (
	"sync"

	"dominicbreuker/sockchan/pkg/socket"
)

// SocketFactory creates real sockets but fails the first calls with a fixed
// error. Its New method fits config.SocketFunc.
type SocketFactory struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	created  []*socket.Socket
}

// NewSocketFactory returns a factory failing the first failures calls with err.
func NewSocketFactory(failures int, err error) *SocketFactory {
	return &SocketFactory{failures: failures, err: err}
}

// New creates a socket unless the factory still has failures left.
func (f *SocketFactory) New(family, typ, proto int) (*socket.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}

	s, err := socket.New(family, typ, proto)
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, s)
	return s, nil
}

// Calls returns how often New was called.
func (f *SocketFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Created returns the sockets handed out so far.
func (f *SocketFactory) Created() []*socket.Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*socket.Socket(nil), f.created...)
}
