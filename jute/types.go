// Package jute implements the binary record encoding used by the ZooKeeper
// wire protocol.
//
// All integers are big-endian. Variable length values (Buffer, UString and
// Vector) carry an int32 length prefix where -1 marks an absent value.
package jute

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"
)

// Value is a typed value that knows its encoded size and how to write itself
// to and read itself from a byte slice at a given offset.
type Value interface {
	ByteLength() int
	Serialize(buf []byte, offset int) (int, error)
	Deserialize(buf []byte, offset int) (int, error)
}

const absentLength = -1

func checkRange(buf []byte, offset int, size int) error {
	if offset < 0 || offset > len(buf) {
		return ErrOffsetOutOfRange
	}
	if len(buf)-offset < size {
		return ErrShortBuffer
	}
	return nil
}

func putInt32(buf []byte, offset int, v int32) (int, error) {
	if err := checkRange(buf, offset, 4); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(buf[offset:], uint32(v))
	return 4, nil
}

func getInt32(buf []byte, offset int) (int32, error) {
	if err := checkRange(buf, offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[offset:])), nil
}

func putUint64(buf []byte, offset int, v uint64) (int, error) {
	if err := checkRange(buf, offset, 8); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint64(buf[offset:], v)
	return 8, nil
}

func getUint64(buf []byte, offset int) (uint64, error) {
	if err := checkRange(buf, offset, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[offset:]), nil
}

// readLength reads a length prefix, returning -1 for an absent value.
func readLength(buf []byte, offset int) (int, error) {
	n, err := getInt32(buf, offset)
	if err != nil {
		return 0, err
	}
	if n < absentLength {
		return 0, ErrInvalidLength
	}
	if n > 0 && len(buf)-offset-4 < int(n) {
		return 0, ErrShortBuffer
	}
	return int(n), nil
}

// Int is a 32-bit signed integer.
type Int int32

func (v *Int) ByteLength() int { return 4 }

func (v *Int) Serialize(buf []byte, offset int) (int, error) {
	return putInt32(buf, offset, int32(*v))
}

func (v *Int) Deserialize(buf []byte, offset int) (int, error) {
	n, err := getInt32(buf, offset)
	if err != nil {
		return 0, err
	}
	*v = Int(n)
	return 4, nil
}

// Long is a 64-bit signed integer.
type Long int64

// High returns the upper 32 bits.
func (v Long) High() uint32 { return uint32(uint64(v) >> 32) }

// Low returns the lower 32 bits.
func (v Long) Low() uint32 { return uint32(uint64(v)) }

// Compare returns -1, 0 or +1 comparing v with other as signed values.
func (v Long) Compare(other Long) int {
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

// Bytes returns the 8-byte big-endian form of v.
func (v Long) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// LongFromBytes is the inverse of Long.Bytes. It returns 0 if b is not 8 bytes long.
func LongFromBytes(b []byte) Long {
	if len(b) != 8 {
		return 0
	}
	return Long(binary.BigEndian.Uint64(b))
}

func (v *Long) ByteLength() int { return 8 }

func (v *Long) Serialize(buf []byte, offset int) (int, error) {
	return putUint64(buf, offset, uint64(*v))
}

func (v *Long) Deserialize(buf []byte, offset int) (int, error) {
	n, err := getUint64(buf, offset)
	if err != nil {
		return 0, err
	}
	*v = Long(n)
	return 8, nil
}

// Zxid is a ZooKeeper transaction id: the leader epoch in the high word and
// a per-epoch counter in the low word.
type Zxid uint64

// NewZxid builds a Zxid from its two halves.
func NewZxid(epoch uint32, counter uint32) Zxid {
	return Zxid(uint64(epoch)<<32 | uint64(counter))
}

func (z Zxid) Epoch() uint32   { return uint32(z >> 32) }
func (z Zxid) Counter() uint32 { return uint32(z) }

// Compare orders zxids by (epoch, counter).
func (z Zxid) Compare(other Zxid) int {
	switch {
	case z < other:
		return -1
	case z > other:
		return 1
	default:
		return 0
	}
}

func (z Zxid) Less(other Zxid) bool { return z < other }

func (z Zxid) String() string {
	return "0x" + strconv.FormatUint(uint64(z), 16)
}

func (z *Zxid) ByteLength() int { return 8 }

func (z *Zxid) Serialize(buf []byte, offset int) (int, error) {
	return putUint64(buf, offset, uint64(*z))
}

func (z *Zxid) Deserialize(buf []byte, offset int) (int, error) {
	n, err := getUint64(buf, offset)
	if err != nil {
		return 0, err
	}
	*z = Zxid(n)
	return 8, nil
}

// Bool is encoded as a single byte.
type Bool bool

func (v *Bool) ByteLength() int { return 1 }

func (v *Bool) Serialize(buf []byte, offset int) (int, error) {
	if err := checkRange(buf, offset, 1); err != nil {
		return 0, err
	}
	if *v {
		buf[offset] = 1
	} else {
		buf[offset] = 0
	}
	return 1, nil
}

func (v *Bool) Deserialize(buf []byte, offset int) (int, error) {
	if err := checkRange(buf, offset, 1); err != nil {
		return 0, err
	}
	*v = buf[offset] != 0
	return 1, nil
}

// Buffer is a length prefixed byte string. A nil Buffer is encoded as absent.
type Buffer []byte

func (v *Buffer) ByteLength() int { return 4 + len(*v) }

func (v *Buffer) Serialize(buf []byte, offset int) (int, error) {
	if *v == nil {
		return putInt32(buf, offset, absentLength)
	}
	if len(*v) > math.MaxInt32 {
		return 0, ErrInvalidLength
	}
	if err := checkRange(buf, offset, 4+len(*v)); err != nil {
		return 0, err
	}
	_, _ = putInt32(buf, offset, int32(len(*v)))
	copy(buf[offset+4:], *v)
	return 4 + len(*v), nil
}

func (v *Buffer) Deserialize(buf []byte, offset int) (int, error) {
	n, err := readLength(buf, offset)
	if err != nil {
		return 0, err
	}
	if n == absentLength {
		*v = nil
		return 4, nil
	}
	data := make([]byte, n)
	copy(data, buf[offset+4:offset+4+n])
	*v = data
	return 4 + n, nil
}

// UString is a length prefixed UTF-8 string. The zero value is absent.
type UString struct {
	Value string
	Valid bool
}

// String returns a present UString holding s.
func String(s string) UString {
	return UString{Value: s, Valid: true}
}

func (v *UString) ByteLength() int {
	if !v.Valid {
		return 4
	}
	return 4 + len(v.Value)
}

func (v *UString) Serialize(buf []byte, offset int) (int, error) {
	if !v.Valid {
		return putInt32(buf, offset, absentLength)
	}
	if !utf8.ValidString(v.Value) {
		return 0, ErrInvalidUTF8
	}
	if err := checkRange(buf, offset, 4+len(v.Value)); err != nil {
		return 0, err
	}
	_, _ = putInt32(buf, offset, int32(len(v.Value)))
	copy(buf[offset+4:], v.Value)
	return 4 + len(v.Value), nil
}

func (v *UString) Deserialize(buf []byte, offset int) (int, error) {
	n, err := readLength(buf, offset)
	if err != nil {
		return 0, err
	}
	if n == absentLength {
		*v = UString{}
		return 4, nil
	}
	s := buf[offset+4 : offset+4+n]
	if !utf8.Valid(s) {
		return 0, ErrInvalidUTF8
	}
	*v = UString{Value: string(s), Valid: true}
	return 4 + n, nil
}

// Elem constrains Vector elements: the pointer to an element must be a Value.
type Elem[T any] interface {
	*T
	Value
}

// Vector is a count prefixed sequence. A nil Vector is encoded as absent.
type Vector[T any, P Elem[T]] []T

func (v *Vector[T, P]) ByteLength() int {
	size := 4
	for i := range *v {
		size += P(&(*v)[i]).ByteLength()
	}
	return size
}

func (v *Vector[T, P]) Serialize(buf []byte, offset int) (int, error) {
	if *v == nil {
		return putInt32(buf, offset, absentLength)
	}
	if _, err := putInt32(buf, offset, int32(len(*v))); err != nil {
		return 0, err
	}
	written := 4
	for i := range *v {
		n, err := P(&(*v)[i]).Serialize(buf, offset+written)
		if err != nil {
			return 0, err
		}
		written += n
	}
	return written, nil
}

func (v *Vector[T, P]) Deserialize(buf []byte, offset int) (int, error) {
	count, err := getInt32(buf, offset)
	if err != nil {
		return 0, err
	}
	if count < absentLength {
		return 0, ErrInvalidLength
	}
	if count == absentLength {
		*v = nil
		return 4, nil
	}
	// every element occupies at least one byte
	if int(count) > len(buf)-offset-4 {
		return 0, ErrShortBuffer
	}

	items := make([]T, count)
	read := 4
	for i := range items {
		n, err := P(&items[i]).Deserialize(buf, offset+read)
		if err != nil {
			return 0, err
		}
		read += n
	}
	*v = items
	return read, nil
}

// Strings builds a present vector of strings.
func Strings(values ...string) Vector[UString, *UString] {
	result := make(Vector[UString, *UString], 0, len(values))
	for _, s := range values {
		result = append(result, String(s))
	}
	return result
}

// StringValues returns the plain strings of a string vector.
func StringValues(v Vector[UString, *UString]) []string {
	if v == nil {
		return nil
	}
	result := make([]string, 0, len(v))
	for _, s := range v {
		result = append(result, s.Value)
	}
	return result
}

// Raw is an already encoded value. Deserialize takes the rest of the buffer.
type Raw []byte

func (v *Raw) ByteLength() int { return len(*v) }

func (v *Raw) Serialize(buf []byte, offset int) (int, error) {
	if err := checkRange(buf, offset, len(*v)); err != nil {
		return 0, err
	}
	return copy(buf[offset:], *v), nil
}

func (v *Raw) Deserialize(buf []byte, offset int) (int, error) {
	if err := checkRange(buf, offset, 0); err != nil {
		return 0, err
	}
	data := make([]byte, len(buf)-offset)
	copy(data, buf[offset:])
	*v = data
	return len(data), nil
}
