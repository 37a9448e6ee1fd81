// Package terminal renders received data for the console.
package terminal

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/term"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Mode selects how a Writer renders data.
type Mode int

const (
	// ModeAuto dumps on terminals and writes raw bytes elsewhere.
	ModeAuto Mode = iota
	ModeRaw
	ModeDump
)

// Writer serializes output of concurrent connections. Chunks written with
// WriteChunk become hex dumps in dump mode, so binary data stays readable
// on a terminal.
type Writer struct {
	mu   sync.Mutex
	w    io.Writer
	dump bool
}

// NewWriter creates a writer for w. ModeAuto decides by looking at w.
func NewWriter(w io.Writer, mode Mode) *Writer {
	return NewWriterFor(w, w, mode)
}

// NewWriterFor creates a writer for w whose ModeAuto decision looks at
// console instead, for outputs that wrap the console.
func NewWriterFor(w, console io.Writer, mode Mode) *Writer {
	dump := mode == ModeDump
	if mode == ModeAuto {
		dump = IsTerminal(console)
	}
	return &Writer{w: w, dump: dump}
}

// Dumping reports whether chunks are rendered as hex dumps.
func (w *Writer) Dumping() bool {
	return w.dump
}

// Write writes p unchanged.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// WriteChunk writes data unchanged, or in dump mode as the header line
// followed by a hex dump.
func (w *Writer) WriteChunk(header string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dump {
		_, err := w.w.Write(data)
		return err
	}
	if _, err := fmt.Fprintf(w.w, "%s\n", header); err != nil {
		return err
	}
	_, err := io.WriteString(w.w, hex.Dump(data))
	return err
}
