package jute

import "errors"

var (
	// ErrShortBuffer is returned when a buffer is too small to hold or supply a value.
	ErrShortBuffer = errors.New("jute: short buffer")

	// ErrOffsetOutOfRange is returned for an offset outside of the buffer.
	ErrOffsetOutOfRange = errors.New("jute: offset out of range")

	// ErrInvalidLength is returned for a length or count prefix below -1.
	ErrInvalidLength = errors.New("jute: invalid length prefix")

	// ErrInvalidUTF8 is returned for strings that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("jute: invalid utf-8 string")
)
