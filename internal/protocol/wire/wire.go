// Package wire reads and writes command/reply payload primitives.
//
// All integers are big-endian. Identifier widths are negotiated with the
// target (VirtualMachine.IDSizes) and carried in IDSizes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortBuffer = errors.New("wire: short buffer")
	ErrIDSize      = errors.New("wire: unsupported id size")
	ErrUnknownTag  = errors.New("wire: unknown value tag")
)

// IDSizes holds the byte widths of each identifier class.
type IDSizes struct {
	FieldID         int `json:"field_id" toml:"field_id" yaml:"field_id"`
	MethodID        int `json:"method_id" toml:"method_id" yaml:"method_id"`
	ObjectID        int `json:"object_id" toml:"object_id" yaml:"object_id"`
	ReferenceTypeID int `json:"reference_type_id" toml:"reference_type_id" yaml:"reference_type_id"`
	FrameID         int `json:"frame_id" toml:"frame_id" yaml:"frame_id"`
}

func DefaultIDSizes() IDSizes {
	return IDSizes{FieldID: 8, MethodID: 8, ObjectID: 8, ReferenceTypeID: 8, FrameID: 8}
}

func (s IDSizes) Validate() error {
	for _, n := range []int{s.FieldID, s.MethodID, s.ObjectID, s.ReferenceTypeID, s.FrameID} {
		if !validIDSize(n) {
			return fmt.Errorf("%w: %d", ErrIDSize, n)
		}
	}
	return nil
}

func validIDSize(n int) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// Reader consumes a payload front to back.
type Reader struct {
	buf   []byte
	off   int
	sizes IDSizes
}

func NewReader(b []byte, sizes IDSizes) *Reader {
	return &Reader{buf: b, sizes: sizes}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Sizes() IDSizes {
	return r.sizes
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d have %d at offset %d", ErrShortBuffer, n, r.Remaining(), r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	return v != 0, err
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// String reads a u32 length followed by modified-UTF-8 bytes.
func (r *Reader) String() (string, error) {
	n, err := r.Int32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sized reads an unsigned identifier of width n.
func (r *Reader) Sized(n int) (uint64, error) {
	if !validIDSize(n) {
		return 0, fmt.Errorf("%w: %d", ErrIDSize, n)
	}
	b, err := r.take(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (r *Reader) ObjectID() (uint64, error)        { return r.Sized(r.sizes.ObjectID) }
func (r *Reader) ReferenceTypeID() (uint64, error) { return r.Sized(r.sizes.ReferenceTypeID) }
func (r *Reader) MethodID() (uint64, error)        { return r.Sized(r.sizes.MethodID) }
func (r *Reader) FieldID() (uint64, error)         { return r.Sized(r.sizes.FieldID) }
func (r *Reader) FrameID() (uint64, error)         { return r.Sized(r.sizes.FrameID) }

// Writer builds a payload.
type Writer struct {
	buf   []byte
	sizes IDSizes
}

func NewWriter(sizes IDSizes) *Writer {
	return &Writer{sizes: sizes}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

func (w *Writer) Int32(v int32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	return w
}

func (w *Writer) String(s string) *Writer {
	if len(s) > math.MaxInt32 {
		s = s[:math.MaxInt32]
	}
	w.Int32(int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Sized writes v in n bytes; n must be a valid id width.
func (w *Writer) Sized(v uint64, n int) *Writer {
	for i := n - 1; i >= 0; i-- {
		w.buf = append(w.buf, byte(v>>(8*uint(i))))
	}
	return w
}

func (w *Writer) ObjectID(v uint64) *Writer        { return w.Sized(v, w.sizes.ObjectID) }
func (w *Writer) ReferenceTypeID(v uint64) *Writer { return w.Sized(v, w.sizes.ReferenceTypeID) }
func (w *Writer) MethodID(v uint64) *Writer        { return w.Sized(v, w.sizes.MethodID) }
func (w *Writer) FieldID(v uint64) *Writer         { return w.Sized(v, w.sizes.FieldID) }
func (w *Writer) FrameID(v uint64) *Writer         { return w.Sized(v, w.sizes.FrameID) }
