package tlv

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"dominicbreuker/sockchan/pkg/buffer"
)

// MaxReadPayload caps the payload size Read accepts from a stream.
const MaxReadPayload = 64 << 20

// Read reads exactly one record from r. A clean EOF before the first header
// byte is returned as io.EOF; a record cut short is io.ErrUnexpectedEOF.
func Read[T Integer, L Unsigned](r io.Reader, order binary.ByteOrder) (Record[T, L], error) {
	var t T
	tSize := int(unsafe.Sizeof(t))

	header := make([]byte, HeaderSize[T, L]())
	if _, err := io.ReadFull(r, header); err != nil {
		return Record[T, L]{}, err
	}

	length := getUint(header[tSize:], order)
	if length > MaxReadPayload {
		return Record[T, L]{}, fmt.Errorf("tlv.Read(): length %d: %w", length, ErrPayloadTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record[T, L]{}, fmt.Errorf("tlv.Read(): payload: %w", err)
	}

	return Record[T, L]{Type: T(getUint(header[:tSize], order)), Data: buffer.New(payload)}, nil
}

// Write encodes rec and writes it to w in a single call.
func Write[T Integer, L Unsigned](w io.Writer, rec Record[T, L], order binary.ByteOrder) error {
	b, err := Encode(rec, order)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("tlv.Write(type %d): %w", rec.Type, err)
	}
	return nil
}

// Reader reassembles records from arbitrarily split chunks, such as the
// reads of a stream channel. It is not safe for concurrent use.
type Reader[T Integer, L Unsigned] struct {
	order   binary.ByteOrder
	pending buffer.Data
}

// NewReader returns an empty reader decoding with order.
func NewReader[T Integer, L Unsigned](order binary.ByteOrder) *Reader[T, L] {
	return &Reader[T, L]{order: order}
}

// Feed appends chunk to the pending bytes and returns all records that are
// complete now, in arrival order.
func (r *Reader[T, L]) Feed(chunk []byte) []Record[T, L] {
	data := r.pending.Concat(buffer.Copy(chunk))
	records, rest := DecodeAll[T, L](data, r.order)
	r.pending = rest
	return records
}

// Buffered returns the number of bytes of an incomplete record held back.
func (r *Reader[T, L]) Buffered() int {
	return r.pending.Len()
}

// Reset drops any pending bytes.
func (r *Reader[T, L]) Reset() {
	r.pending = buffer.Data{}
}
