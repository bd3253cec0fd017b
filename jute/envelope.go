package jute

import "encoding/binary"

// Envelope is one outbound frame: an optional header followed by an
// optional payload, prefixed with their combined length.
type Envelope struct {
	Header  Value
	Payload Value
}

func (e Envelope) bodyLength() int {
	size := 0
	if e.Header != nil {
		size += e.Header.ByteLength()
	}
	if e.Payload != nil {
		size += e.Payload.ByteLength()
	}
	return size
}

// ByteLength is the size of the whole frame including its length prefix.
func (e Envelope) ByteLength() int {
	return 4 + e.bodyLength()
}

// AppendTo appends the encoded frame to dst.
func (e Envelope) AppendTo(dst []byte) ([]byte, error) {
	start := len(dst)
	total := e.ByteLength()
	dst = append(dst, make([]byte, total)...)
	frame := dst[start:]

	offset := 4
	if e.Header != nil {
		n, err := e.Header.Serialize(frame, offset)
		if err != nil {
			return dst[:start], err
		}
		offset += n
	}
	if e.Payload != nil {
		n, err := e.Payload.Serialize(frame, offset)
		if err != nil {
			return dst[:start], err
		}
		offset += n
	}
	binary.BigEndian.PutUint32(frame, uint32(offset-4))
	return dst[:start+offset], nil
}

// ToBuffer encodes the frame into a new buffer.
func (e Envelope) ToBuffer() ([]byte, error) {
	return e.AppendTo(make([]byte, 0, e.ByteLength()))
}
