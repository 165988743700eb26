// Package wirebytes provides big-endian put/get helpers shared by the wire
// codec. Asterisque frames are big-endian throughout (see wire.MagicBytes).
package wirebytes

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/exp/constraints"
)

// FixedWidth is the set of integer types the codec ever puts on the wire.
type FixedWidth interface {
	constraints.Integer
}

// Put writes v to w in big-endian order, sized to T's width.
func Put[T FixedWidth](w io.Writer, v T) error {
	var b []byte
	switch any(v).(type) {
	case int8, uint8:
		b = []byte{byte(v)}
	case int16, uint16:
		b = make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
	case int32, uint32:
		b = make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
	case int64, uint64:
		b = make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
	default:
		return fmt.Errorf("wirebytes: unsupported type %T", v)
	}
	_, err := w.Write(b)
	return err
}

// Get reads a T from r in big-endian order.
func Get[T FixedWidth](r io.Reader) (T, error) {
	var zero T
	var width int
	switch any(zero).(type) {
	case int8, uint8:
		width = 1
	case int16, uint16:
		width = 2
	case int32, uint32:
		width = 4
	case int64, uint64:
		width = 8
	default:
		return zero, fmt.Errorf("wirebytes: unsupported type %T", zero)
	}

	b := make([]byte, width)
	if _, err := io.ReadFull(r, b); err != nil {
		return zero, err
	}
	switch width {
	case 1:
		return T(b[0]), nil
	case 2:
		return T(binary.BigEndian.Uint16(b)), nil
	case 4:
		return T(binary.BigEndian.Uint32(b)), nil
	default:
		return T(binary.BigEndian.Uint64(b)), nil
	}
}

// PutString writes a u16-length-prefixed UTF-8 string.
func PutString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("wirebytes: string too long: %d bytes", len(s))
	}
	if err := Put[uint16](w, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// GetString reads a u16-length-prefixed UTF-8 string.
func GetString(r io.Reader) (string, error) {
	n, err := Get[uint16](r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// PutBytes writes a u16-length-prefixed byte slice.
func PutBytes(w io.Writer, b []byte) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("wirebytes: byte slice too long: %d bytes", len(b))
	}
	if err := Put[uint16](w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// GetBytes reads a u16-length-prefixed byte slice.
func GetBytes(r io.Reader) ([]byte, error) {
	n, err := Get[uint16](r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
