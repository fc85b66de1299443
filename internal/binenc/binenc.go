// Package binenc implements the explicit, field-ordered binary schema used by
// htmgo snapshots.
//
// Every entity is written as a named section followed by its fields in a fixed
// order. Readers verify section names, so a schema drift fails loudly instead
// of silently mis-assigning fields. Integers are varint encoded, floats are
// written as their IEEE-754 bits in little-endian order.
package binenc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxSliceLen bounds slice lengths accepted by the Reader.
const MaxSliceLen = 1 << 30

var (
	// ErrSectionMismatch is returned when a section name differs from the expected one.
	ErrSectionMismatch = errors.New("binenc: section mismatch")
	// ErrLengthOverflow is returned when a decoded length exceeds MaxSliceLen.
	ErrLengthOverflow = errors.New("binenc: length overflow")
)

// Writer writes schema fields. Errors are sticky: after the first failure all
// further writes are no-ops and Err reports the failure.
type Writer struct {
	w   io.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// Section starts a named section.
func (w *Writer) Section(name string) { w.String(name) }

// Uvarint writes an unsigned varint.
func (w *Writer) Uvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.write(w.buf[:n])
}

// Varint writes a signed varint.
func (w *Writer) Varint(v int64) {
	n := binary.PutVarint(w.buf[:], v)
	w.write(w.buf[:n])
}

// Int writes an int.
func (w *Writer) Int(v int) { w.Varint(int64(v)) }

// Uint64 writes a fixed-width uint64.
func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// Float64 writes a float64 as raw bits.
func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

// Bool writes a single byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.write([]byte{1})
		return
	}
	w.write([]byte{0})
}

// Bytes writes a length-prefixed byte slice.
func (w *Writer) Bytes(p []byte) {
	w.Uvarint(uint64(len(p)))
	w.write(p)
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) { w.Bytes([]byte(s)) }

// Ints writes a length-prefixed []int.
func (w *Writer) Ints(v []int) {
	w.Uvarint(uint64(len(v)))
	for _, x := range v {
		w.Varint(int64(x))
	}
}

// Int32s writes a length-prefixed []int32.
func (w *Writer) Int32s(v []int32) {
	w.Uvarint(uint64(len(v)))
	for _, x := range v {
		w.Varint(int64(x))
	}
}

// Float64s writes a length-prefixed []float64.
func (w *Writer) Float64s(v []float64) {
	w.Uvarint(uint64(len(v)))
	for _, x := range v {
		w.Float64(x)
	}
}

// Reader reads schema fields written by Writer. Errors are sticky.
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

// NewReader creates a Reader.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Section reads a section name and verifies it.
func (r *Reader) Section(name string) {
	got := r.String()
	if r.err == nil && got != name {
		r.fail(fmt.Errorf("%w: expected %q, got %q", ErrSectionMismatch, name, got))
	}
}

// Uvarint reads an unsigned varint.
func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

// Varint reads a signed varint.
func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

// Int reads an int.
func (r *Reader) Int() int { return int(r.Varint()) }

// Uint64 reads a fixed-width uint64.
func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	if _, err := io.ReadFull(r.r, r.buf[:8]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// Float64 reads a float64.
func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

// Bool reads a bool.
func (r *Reader) Bool() bool {
	if r.err != nil {
		return false
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return false
	}
	return b != 0
}

func (r *Reader) length() int {
	n := r.Uvarint()
	if n > MaxSliceLen {
		r.fail(fmt.Errorf("%w: %d", ErrLengthOverflow, n))
		return 0
	}
	return int(n)
}

// Bytes reads a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n := r.length()
	if r.err != nil {
		return nil
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r.r, p); err != nil {
		r.fail(err)
		return nil
	}
	return p
}

// String reads a length-prefixed string.
func (r *Reader) String() string { return string(r.Bytes()) }

// Ints reads a length-prefixed []int.
func (r *Reader) Ints() []int {
	n := r.length()
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]int, n)
	for i := range v {
		v[i] = int(r.Varint())
	}
	return v
}

// Int32s reads a length-prefixed []int32.
func (r *Reader) Int32s() []int32 {
	n := r.length()
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]int32, n)
	for i := range v {
		v[i] = int32(r.Varint())
	}
	return v
}

// Float64s reads a length-prefixed []float64.
func (r *Reader) Float64s() []float64 {
	n := r.length()
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = r.Float64()
	}
	return v
}
