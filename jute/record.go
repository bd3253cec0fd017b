package jute

import (
	"fmt"
	"strings"
)

// Field is one named, typed member of a record.
type Field struct {
	Name  string
	Value Value
}

// Fields is the ordered field list of a record. Records return their fields
// in declaration order and delegate the Value methods to it.
type Fields []Field

func (f Fields) ByteLength() int {
	size := 0
	for _, field := range f {
		size += field.Value.ByteLength()
	}
	return size
}

func (f Fields) Serialize(buf []byte, offset int) (int, error) {
	written := 0
	for _, field := range f {
		n, err := field.Value.Serialize(buf, offset+written)
		if err != nil {
			return 0, fmt.Errorf("serialize field %q: %w", field.Name, err)
		}
		written += n
	}
	return written, nil
}

func (f Fields) Deserialize(buf []byte, offset int) (int, error) {
	read := 0
	for _, field := range f {
		n, err := field.Value.Deserialize(buf, offset+read)
		if err != nil {
			return 0, fmt.Errorf("deserialize field %q: %w", field.Name, err)
		}
		read += n
	}
	return read, nil
}

// String renders the field values, for debug logging.
func (f Fields) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(field.Name)
		b.WriteByte(':')
		b.WriteString(formatValue(field.Value))
	}
	b.WriteByte('}')
	return b.String()
}

func formatValue(v Value) string {
	switch x := v.(type) {
	case *Int:
		return fmt.Sprint(int32(*x))
	case *Long:
		return fmt.Sprint(int64(*x))
	case *Zxid:
		return x.String()
	case *Bool:
		return fmt.Sprint(bool(*x))
	case *Buffer:
		if *x == nil {
			return "<nil>"
		}
		return fmt.Sprintf("[%d bytes]", len(*x))
	case *UString:
		if !x.Valid {
			return "<nil>"
		}
		return fmt.Sprintf("%q", x.Value)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Marshal encodes v into a freshly allocated buffer.
func Marshal(v Value) ([]byte, error) {
	buf := make([]byte, v.ByteLength())
	n, err := v.Serialize(buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Unmarshal decodes v from the start of buf and returns the bytes consumed.
func Unmarshal(buf []byte, v Value) (int, error) {
	return v.Deserialize(buf, 0)
}
