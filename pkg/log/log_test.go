package log

import (
	"bytes"
	"os"
	"testing"
)

func TestErrorMsg(t *testing.T) {
	// Capture stderr
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	ErrorMsg("test error: %s", "something")

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	if output == "" {
		t.Error("ErrorMsg() produced no output")
	}
	if !bytes.Contains([]byte(output), []byte("test error")) {
		t.Errorf("ErrorMsg() output does not contain expected text: %q", output)
	}
}

func TestInfoMsg(t *testing.T) {
	// Capture stderr
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	InfoMsg("test info: %s", "something")

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	if output == "" {
		t.Error("InfoMsg() produced no output")
	}
	if !bytes.Contains([]byte(output), []byte("test info")) {
		t.Errorf("InfoMsg() output does not contain expected text: %q", output)
	}
}

func TestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		verbose bool
		log     func(l *Logger)
		want    string
	}{
		{"info", false, func(l *Logger) { l.InfoMsg("connected to %s\n", "peer") }, "connected to peer"},
		{"error", false, func(l *Logger) { l.ErrorMsg("broken: %d\n", 7) }, "broken: 7"},
		{"verbose on", true, func(l *Logger) { l.VerboseMsg("attempt %d\n", 2) }, "attempt 2"},
		{"verbose off", false, func(l *Logger) { l.VerboseMsg("attempt %d\n", 2) }, ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			l := NewLoggerTo(&buf, tc.verbose)
			tc.log(l)

			if tc.want == "" {
				if buf.Len() != 0 {
					t.Errorf("expected no output, got %q", buf.String())
				}
				return
			}
			if !bytes.Contains(buf.Bytes(), []byte(tc.want)) {
				t.Errorf("output %q does not contain %q", buf.String(), tc.want)
			}
		})
	}
}

func TestLogger_Nil(t *testing.T) {
	t.Parallel()

	l := Nop()
	l.InfoMsg("x\n")
	l.ErrorMsg("x\n")
	l.VerboseMsg("x\n")
	if l.Verbose() {
		t.Error("nil logger should not be verbose")
	}
	if err := l.Errorf("wrapped: %d", 1); err == nil || err.Error() != "wrapped: 1" {
		t.Errorf("Errorf() = %v, want %q", err, "wrapped: 1")
	}
}
