package entrypoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/pipeio"
	"dominicbreuker/sockchan/pkg/terminal"
	"dominicbreuker/sockchan/pkg/tlv"
)

// record is the TLV layout used on the command line: a one byte type and a
// two byte length.
type record = tlv.Record[uint8, uint16]

// lineRecordType is the type of records built from input lines.
const lineRecordType uint8 = 1

var recordOrder = binary.BigEndian

// openOutput returns the writer for received data. With a log file set,
// everything written is also appended to it; the returned func closes it.
func openOutput(cfg *config.Shared) (*terminal.Writer, func(), error) {
	stdout := config.GetStdoutFunc(cfg.Deps)()
	if cfg.LogFile == "" {
		return terminal.NewWriter(stdout, terminal.ModeAuto), func() {}, nil
	}

	transcript, err := log.NewTranscript(stdout, cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
	}
	closeFn := func() {
		if err := transcript.Close(); err != nil {
			cfg.Logger.ErrorMsg("closing log file: %s\n", err)
		}
	}
	return terminal.NewWriterFor(transcript, stdout, terminal.ModeAuto), closeFn, nil
}

// pumpInput hands the input to send until it ends. In TLV mode every line
// becomes one record, otherwise chunks are sent as they are read.
func pumpInput(ctx context.Context, sCfg *config.Stream, r io.Reader, send func([]byte) error) error {
	if !sCfg.TLV {
		return pipeio.Pump(ctx, r, send)
	}

	return pipeio.PumpLines(ctx, r, func(line []byte) error {
		payload, err := tlv.Encode(tlv.NewRecord[uint8, uint16](lineRecordType, line), recordOrder)
		if err != nil {
			return fmt.Errorf("framing input: %w", err)
		}
		return send(payload)
	})
}

// receiver returns the read callback of a stream channel. It writes data to
// out, decoding TLV records first in TLV mode.
func receiver(cfg *config.Shared, sCfg *config.Stream, out *terminal.Writer, label string) func([]byte, error) {
	if !sCfg.TLV {
		return func(data []byte, err error) {
			if err != nil {
				cfg.Logger.VerboseMsg("%s: read: %s\n", label, err)
				return
			}
			if _, err := out.Write(data); err != nil {
				cfg.Logger.ErrorMsg("writing output: %s\n", err)
			}
		}
	}

	// read callbacks of one channel never overlap
	reader := tlv.NewReader[uint8, uint16](recordOrder)
	return func(data []byte, err error) {
		if err != nil {
			cfg.Logger.VerboseMsg("%s: read: %s\n", label, err)
			reader.Reset()
			return
		}
		for _, rec := range reader.Feed(data) {
			if err := writeRecord(out, rec); err != nil {
				cfg.Logger.ErrorMsg("writing output: %s\n", err)
			}
		}
	}
}

func writeRecord(out *terminal.Writer, rec record) error {
	payload := rec.Data.Bytes()
	if !out.Dumping() && rec.Type == lineRecordType {
		payload = append(payload[:len(payload):len(payload)], '\n')
	}
	return out.WriteChunk(fmt.Sprintf("record type=%d length=%d", rec.Type, rec.Data.Len()), payload)
}

// writeSync writes data and waits for the outcome.
func writeSync(ch streamChannel, data []byte) error {
	done := make(chan error, 1)
	ch.Write(data, func(err error) { done <- err })
	return <-done
}
