// Package helpers provides common utilities for integration and end-to-end tests.
package helpers

import (
	"io"
	"testing"

	"dominicbreuker/sockchan/mocks"
	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/socket"

	"golang.org/x/sys/unix"
)

// Side is one end of a test session: its mock stdio and the shared
// configuration wired to it.
type Side struct {
	Stdio *mocks.MockStdio
	Cfg   *config.Shared
}

// NewSide creates a side whose commands read and write the mock stdio.
func NewSide(t *testing.T) *Side {
	t.Helper()

	stdio := mocks.NewMockStdio()
	t.Cleanup(func() { stdio.Close() })

	return &Side{
		Stdio: stdio,
		Cfg: &config.Shared{
			Verbose: testing.Verbose(),
			Logger:  log.NewLogger(testing.Verbose()),
			Deps: &config.Dependencies{
				Stdin:  func() io.Reader { return stdio.GetStdin() },
				Stdout: func() io.Writer { return stdio.GetStdout() },
			},
		},
	}
}

// FreePort returns a loopback port that was free a moment ago, for
// commands that need a fixed port.
func FreePort(t *testing.T, typ int) int {
	t.Helper()

	proto := unix.IPPROTO_TCP
	if typ == unix.SOCK_DGRAM {
		proto = unix.IPPROTO_UDP
	}
	s, err := socket.New(unix.AF_INET, typ, proto)
	if err != nil {
		t.Fatalf("socket.New() error = %v", err)
	}
	defer s.Close()

	if err := s.Bind(address.MustNew("127.0.0.1", 0)); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	local, err := s.LocalAddress()
	if err != nil {
		t.Fatalf("LocalAddress() error = %v", err)
	}
	port, _ := local.Port()
	return int(port)
}

// Run starts fn and returns a channel receiving its result.
func Run(fn func() error) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	return errCh
}
