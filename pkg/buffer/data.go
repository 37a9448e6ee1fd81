// Package buffer provides an immutable byte view and a bounded pool of
// reusable byte slices.
package buffer

import "bytes"

// Data is a read-only view over bytes. Views produced by Split and Slice
// share storage with their parent; the bytes are never written after
// construction.
type Data struct {
	b []byte
}

// New wraps b without copying. The caller must not modify b afterwards.
func New(b []byte) Data {
	return Data{b: b}
}

// Copy wraps a private copy of b.
func Copy(b []byte) Data {
	if len(b) == 0 {
		return Data{}
	}
	return Data{b: bytes.Clone(b)}
}

// Len returns the number of bytes in the view.
func (d Data) Len() int {
	return len(d.b)
}

// Bytes returns the underlying bytes. They must be treated as read-only.
func (d Data) Bytes() []byte {
	return d.b
}

// Split cuts the view at n without copying. n is clamped to the view.
func (d Data) Split(n int) (head, tail Data) {
	if n < 0 {
		n = 0
	}
	if n > len(d.b) {
		n = len(d.b)
	}
	return Data{b: d.b[:n:n]}, Data{b: d.b[n:]}
}

// Slice returns the view [from, to) without copying.
func (d Data) Slice(from, to int) Data {
	return Data{b: d.b[from:to:to]}
}

// Concat returns a view holding d followed by o. The result owns new storage
// unless one side is empty.
func (d Data) Concat(o Data) Data {
	switch {
	case len(o.b) == 0:
		return d
	case len(d.b) == 0:
		return o
	}
	b := make([]byte, 0, len(d.b)+len(o.b))
	b = append(b, d.b...)
	b = append(b, o.b...)
	return Data{b: b}
}

// Equal reports whether both views hold the same bytes.
func (d Data) Equal(o Data) bool {
	return bytes.Equal(d.b, o.b)
}

func (d Data) String() string {
	return string(d.b)
}
