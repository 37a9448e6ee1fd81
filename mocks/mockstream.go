package mocks

import (
	"bytes"
	"io"
	"sync"
)

// ChunkedReader serves a fixed byte sequence in reads of at most chunk bytes,
// like a socket that delivers a stream in small segments.
type ChunkedReader struct {
	data  []byte
	chunk int
	mu    sync.Mutex
}

// NewChunkedReader creates a reader over a copy of data.
func NewChunkedReader(data []byte, chunk int) *ChunkedReader {
	if chunk <= 0 {
		chunk = 1
	}
	return &ChunkedReader{data: bytes.Clone(data), chunk: chunk}
}

// Read implements io.Reader.
func (r *ChunkedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.chunk, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// RecordingWriter collects everything written to it and counts the calls.
type RecordingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	err    error
}

// NewRecordingWriter returns a writer that fails every call with err when
// err is non-nil.
func NewRecordingWriter(err error) *RecordingWriter {
	return &RecordingWriter{err: err}
}

// Write implements io.Writer.
func (w *RecordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

// Bytes returns a copy of everything written so far.
func (w *RecordingWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf.Bytes())
}

// Writes returns the number of Write calls.
func (w *RecordingWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
