// Package mocks provides test doubles for the standard streams, byte
// streams and socket creation.
package mocks

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockStdio stands in for the process stdin and stdout. Tests feed stdin
// through WriteToStdin and inspect everything written to stdout.
type MockStdio struct {
	stdinReader *io.PipeReader
	stdinWriter *io.PipeWriter

	mu      sync.Mutex
	output  bytes.Buffer
	updated chan struct{}
	closed  bool
}

// NewMockStdio creates a mock whose stdin blocks until data is written.
func NewMockStdio() *MockStdio {
	r, w := io.Pipe()
	return &MockStdio{
		stdinReader: r,
		stdinWriter: w,
		updated:     make(chan struct{}),
	}
}

// WriteToStdin simulates user input. It blocks until the input was read.
func (m *MockStdio) WriteToStdin(data []byte) (int, error) {
	return m.stdinWriter.Write(data)
}

// ReadFromStdout returns everything written to stdout so far.
func (m *MockStdio) ReadFromStdout() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output.String()
}

// GetStdin returns the reader to inject as stdin.
func (m *MockStdio) GetStdin() io.Reader {
	return m.stdinReader
}

// GetStdout returns the writer to inject as stdout.
func (m *MockStdio) GetStdout() io.Writer {
	return stdoutWriter{m}
}

type stdoutWriter struct{ m *MockStdio }

func (w stdoutWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.closed {
		return 0, io.ErrClosedPipe
	}
	w.m.output.Write(p)
	close(w.m.updated)
	w.m.updated = make(chan struct{})
	return len(p), nil
}

// WaitForOutput waits until stdout contains expected. The timeout is in
// milliseconds.
func (m *MockStdio) WaitForOutput(expected string, timeoutMs int) error {
	timeout := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timeout.Stop()

	for {
		m.mu.Lock()
		found := strings.Contains(m.output.String(), expected)
		got := m.output.String()
		updated := m.updated
		m.mu.Unlock()

		if found {
			return nil
		}

		select {
		case <-updated:
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for output %q, got: %q", expected, got)
		}
	}
}

// Close ends stdin and makes further stdout writes fail.
func (m *MockStdio) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.stdinWriter.Close()
}
