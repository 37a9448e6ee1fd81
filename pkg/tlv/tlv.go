// Package tlv frames payloads as Type-Length-Value records: a fixed-width
// type tag, a fixed-width payload length, then the payload bytes.
//
// Type and length widths come from the Go types a Record is instantiated
// with, so Record[uint8, uint16] has a three byte header. Byte order is a
// parameter of every operation; binary.BigEndian is the usual wire order.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"dominicbreuker/sockchan/pkg/buffer"
)

// Integer is the set of fixed-width integers usable as a type tag.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | Unsigned
}

// Unsigned is the set of fixed-width integers usable as a length field.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ErrPayloadTooLarge is returned when a payload does not fit the length field.
var ErrPayloadTooLarge = errors.New("payload too large for length field")

// Record is a single framed value.
type Record[T Integer, L Unsigned] struct {
	Type T
	Data buffer.Data
}

// NewRecord builds a record over a private copy of data.
func NewRecord[T Integer, L Unsigned](typ T, data []byte) Record[T, L] {
	return Record[T, L]{Type: typ, Data: buffer.Copy(data)}
}

// Equal reports whether both records carry the same type and payload.
func (r Record[T, L]) Equal(o Record[T, L]) bool {
	return r.Type == o.Type && r.Data.Equal(o.Data)
}

func (r Record[T, L]) String() string {
	return fmt.Sprintf("TLV(type %d, %d bytes)", r.Type, r.Data.Len())
}

// HeaderSize returns the number of header bytes of records of this shape.
func HeaderSize[T Integer, L Unsigned]() int {
	var t T
	var l L
	return int(unsafe.Sizeof(t) + unsafe.Sizeof(l))
}

// Encode serializes rec as type, length and payload.
func Encode[T Integer, L Unsigned](rec Record[T, L], order binary.ByteOrder) ([]byte, error) {
	var l L
	if uint64(rec.Data.Len()) > uint64(^l) {
		return nil, fmt.Errorf("tlv.Encode(type %d, %d bytes): %w", rec.Type, rec.Data.Len(), ErrPayloadTooLarge)
	}

	var t T
	tSize := int(unsafe.Sizeof(t))
	lSize := int(unsafe.Sizeof(l))

	out := make([]byte, tSize+lSize+rec.Data.Len())
	putUint(out[:tSize], uint64(rec.Type), order)
	putUint(out[tSize:tSize+lSize], uint64(rec.Data.Len()), order)
	copy(out[tSize+lSize:], rec.Data.Bytes())
	return out, nil
}

// Decode reads one record from the front of data. When data holds less than
// a complete record it returns nil and data unchanged; callers keep the bytes
// and retry once more arrive. The payload shares storage with data.
func Decode[T Integer, L Unsigned](data buffer.Data, order binary.ByteOrder) (*Record[T, L], buffer.Data) {
	var t T
	var l L
	tSize := int(unsafe.Sizeof(t))
	lSize := int(unsafe.Sizeof(l))

	if data.Len() < tSize+lSize {
		return nil, data
	}

	header, rest := data.Split(tSize + lSize)
	b := header.Bytes()
	typ := T(getUint(b[:tSize], order))
	length := getUint(b[tSize:], order)

	if uint64(rest.Len()) < length {
		return nil, data
	}

	payload, rest := rest.Split(int(length))
	return &Record[T, L]{Type: typ, Data: payload}, rest
}

// DecodeAll decodes records until data runs out or only a partial record is
// left. The partial remainder is returned for the caller to prepend to the
// next chunk.
func DecodeAll[T Integer, L Unsigned](data buffer.Data, order binary.ByteOrder) ([]Record[T, L], buffer.Data) {
	var records []Record[T, L]
	for {
		rec, rest := Decode[T, L](data, order)
		if rec == nil {
			return records, data
		}
		records = append(records, *rec)
		data = rest
	}
}

func putUint(b []byte, v uint64, order binary.ByteOrder) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("tlv: unsupported field width %d", len(b)))
	}
}

func getUint(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	default:
		panic(fmt.Sprintf("tlv: unsupported field width %d", len(b)))
	}
}
