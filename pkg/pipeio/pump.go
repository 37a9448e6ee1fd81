package pipeio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/muesli/cancelreader"
)

// ChunkSize is the largest chunk Pump hands to its sink.
const ChunkSize = 32 * 1024

// Pump reads r and hands every chunk to sink until r ends, sink fails or
// ctx is done. Chunks are copies. End of input and cancellation of r are
// not errors.
func Pump(ctx context.Context, r io.Reader, sink func([]byte) error) error {
	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			if serr := sink(bytes.Clone(buf[:n])); serr != nil {
				return serr
			}
		}
		if err != nil {
			return readErr(err)
		}
	}
}

// PumpLines is like Pump but hands over one line at a time, without the
// line terminator.
func PumpLines(ctx context.Context, r io.Reader, sink func([]byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), ChunkSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := sink(bytes.Clone(scanner.Bytes())); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return readErr(err)
	}
	return nil
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, cancelreader.ErrCanceled) {
		return nil
	}
	return fmt.Errorf("reading input: %w", err)
}
