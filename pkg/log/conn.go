package log

import (
	"fmt"
	"io"
	"os"
)

// transcript tees everything written to it into a log file.
type transcript struct {
	w       io.Writer
	logFile *os.File
}

func (t *transcript) Write(b []byte) (int, error) {
	n, err := t.w.Write(b)
	if n > 0 {
		if _, lerr := t.logFile.Write(b[:n]); lerr != nil {
			return 0, fmt.Errorf("writing transcript: %s", lerr)
		}
	}
	return n, err
}

func (t *transcript) Close() error {
	return t.logFile.Close()
}

// NewTranscript wraps w so that all data written to it is also appended to
// the file at logFilePath. Closing the result closes only the log file.
func NewTranscript(w io.Writer, logFilePath string) (io.WriteCloser, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &transcript{w: w, logFile: logFile}, nil
}
