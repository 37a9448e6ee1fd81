package terminal

import (
	"bytes"
	"encoding/hex"
	"os"
	"testing"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if IsTerminal(&bytes.Buffer{}) {
		t.Error("IsTerminal(buffer) = true")
	}

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("IsTerminal(regular file) = true")
	}
}

func TestWriter(t *testing.T) {
	t.Parallel()

	payload := []byte("hi\x00\x01")

	tests := []struct {
		name      string
		mode      Mode
		wantDump  bool
		wantChunk string
	}{
		{name: "auto on buffer is raw", mode: ModeAuto, wantDump: false, wantChunk: string(payload)},
		{name: "raw", mode: ModeRaw, wantDump: false, wantChunk: string(payload)},
		{name: "dump", mode: ModeDump, wantDump: true, wantChunk: "type=1 length=4\n" + hex.Dump(payload)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			w := NewWriter(&out, tc.mode)
			if w.Dumping() != tc.wantDump {
				t.Errorf("Dumping() = %t; want %t", w.Dumping(), tc.wantDump)
			}

			n, err := w.Write(payload)
			if err != nil || n != len(payload) {
				t.Fatalf("Write() = %d, %v; want %d, nil", n, err, len(payload))
			}
			if out.String() != string(payload) {
				t.Errorf("Write() output = %q; want %q", out.String(), payload)
			}

			out.Reset()
			if err := w.WriteChunk("type=1 length=4", payload); err != nil {
				t.Fatalf("WriteChunk() error = %v", err)
			}
			if out.String() != tc.wantChunk {
				t.Errorf("WriteChunk() output = %q; want %q", out.String(), tc.wantChunk)
			}
		})
	}
}

func TestNewWriterFor(t *testing.T) {
	t.Parallel()

	var out, console bytes.Buffer
	if NewWriterFor(&out, &console, ModeAuto).Dumping() {
		t.Error("Dumping() = true for non-terminal console")
	}
	if !NewWriterFor(&out, &console, ModeDump).Dumping() {
		t.Error("Dumping() = false for ModeDump")
	}
}
