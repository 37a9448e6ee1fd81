package udp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/format"
)

// Datagram is one received packet.
type Datagram struct {
	From      address.Address
	Timestamp time.Time
	Data      []byte
}

func (d Datagram) String() string {
	return fmt.Sprintf("Datagram(from %s at %s, %s)", d.From, d.Timestamp.Format(time.RFC3339Nano), format.Payload(d.Data, 16))
}

type datagramMeta struct {
	Address   string  `json:"address"`
	Port      int     `json:"port"`
	Timestamp float64 `json:"timestamp"`
}

// maxCaptureField bounds each length-prefixed field read by ReadDatagram.
const maxCaptureField = 1 << 20

// WriteDatagram appends d to a capture stream: a JSON metadata block and
// the payload, each prefixed by its length as big-endian int32.
func WriteDatagram(w io.Writer, d Datagram) error {
	port, _ := d.From.Port()
	meta, err := json.Marshal(datagramMeta{
		Address:   d.From.Host(),
		Port:      int(port),
		Timestamp: float64(d.Timestamp.UnixNano()) / 1e9,
	})
	if err != nil {
		return fmt.Errorf("json.Marshal(): %w", err)
	}

	for _, field := range [][]byte{meta, d.Data} {
		if len(field) > math.MaxInt32 {
			return fmt.Errorf("capture field of %d bytes too large", len(field))
		}
		if err := binary.Write(w, binary.BigEndian, int32(len(field))); err != nil {
			return fmt.Errorf("writing datagram: %w", err)
		}
		if _, err := w.Write(field); err != nil {
			return fmt.Errorf("writing datagram: %w", err)
		}
	}
	return nil
}

// ReadDatagram reads one datagram written by WriteDatagram. It returns
// io.EOF when the stream ends between datagrams.
func ReadDatagram(r io.Reader) (Datagram, error) {
	meta, err := readField(r)
	if err != nil {
		return Datagram{}, err
	}
	data, err := readField(r)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return Datagram{}, err
	}

	var m datagramMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return Datagram{}, fmt.Errorf("json.Unmarshal(): %w", err)
	}
	if m.Port < 0 || m.Port > math.MaxUint16 {
		return Datagram{}, fmt.Errorf("invalid port %d in capture", m.Port)
	}
	from, err := address.New(m.Address, uint16(m.Port))
	if err != nil {
		return Datagram{}, err
	}

	sec, frac := math.Modf(m.Timestamp)
	return Datagram{
		From:      from,
		Timestamp: time.Unix(int64(sec), int64(math.Round(frac*1e9))),
		Data:      data,
	}, nil
}

func readField(r io.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || n > maxCaptureField {
		return nil, fmt.Errorf("invalid capture field length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}
