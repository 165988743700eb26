package wire

import (
	"fmt"
	"io"
	"math"

	"github.com/asterisque/asterisque/internal/wirebytes"
	"github.com/google/uuid"
)

// ValueKind tags a transferable Value's wire representation (spec §4.1).
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindChar
	KindString
	KindBytes
	KindUUID
	KindList
	KindMap
	KindTuple
)

// Value is the closed set of types that may cross the wire as a parameter,
// a Close result, or an element of a List/Map/Tuple. Exactly one field is
// meaningful, selected by Kind.
type Value struct {
	Kind ValueKind

	Bool   bool
	I8     int8
	I16    int16
	I32    int32
	I64    int64
	F32    float32
	F64    float64
	Char   rune
	Str    string
	Bytes  []byte
	UUID   uuid.UUID
	List   []Value
	Map    []MapEntry // ordered; DecodeValue fails on duplicate keys
	Tuple  []Value
	Schema string // meaningful iff Kind == KindTuple
}

// MapEntry is one key/value pair of a Map value. Keys are themselves
// transferable values (spec allows any transferable as a map key).
type MapEntry struct {
	Key Value
	Val Value
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func I8(v int8) Value           { return Value{Kind: KindI8, I8: v} }
func I16(v int16) Value         { return Value{Kind: KindI16, I16: v} }
func I32(v int32) Value         { return Value{Kind: KindI32, I32: v} }
func I64(v int64) Value         { return Value{Kind: KindI64, I64: v} }
func F32(v float32) Value       { return Value{Kind: KindF32, F32: v} }
func F64(v float64) Value       { return Value{Kind: KindF64, F64: v} }
func Char(v rune) Value         { return Value{Kind: KindChar, Char: v} }
func Str(v string) Value        { return Value{Kind: KindString, Str: v} }
func Bin(v []byte) Value        { return Value{Kind: KindBytes, Bytes: v} }
func UUIDValue(v uuid.UUID) Value { return Value{Kind: KindUUID, UUID: v} }
func List(vs []Value) Value     { return Value{Kind: KindList, List: vs} }
func Map(entries []MapEntry) Value { return Value{Kind: KindMap, Map: entries} }
func Tuple(schema string, vs []Value) Value {
	return Value{Kind: KindTuple, Schema: schema, Tuple: vs}
}

// EncodeValue writes v's type-tagged wire representation to w.
func EncodeValue(w io.Writer, v Value) error {
	if err := wirebytes.Put[uint8](w, uint8(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		var b uint8
		if v.Bool {
			b = 1
		}
		return wirebytes.Put[uint8](w, b)
	case KindI8:
		return wirebytes.Put[int8](w, v.I8)
	case KindI16:
		return wirebytes.Put[int16](w, v.I16)
	case KindI32:
		return wirebytes.Put[int32](w, v.I32)
	case KindI64:
		return wirebytes.Put[int64](w, v.I64)
	case KindF32:
		return wirebytes.Put[uint32](w, math.Float32bits(v.F32))
	case KindF64:
		return wirebytes.Put[uint64](w, math.Float64bits(v.F64))
	case KindChar:
		return wirebytes.Put[uint32](w, uint32(v.Char))
	case KindString:
		return wirebytes.PutString(w, v.Str)
	case KindBytes:
		return wirebytes.PutBytes(w, v.Bytes)
	case KindUUID:
		b, err := v.UUID.MarshalBinary()
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case KindList:
		if len(v.List) > 0xFFFF {
			return fmt.Errorf("wire: list too long: %d elements", len(v.List))
		}
		if err := wirebytes.Put[uint16](w, uint16(len(v.List))); err != nil {
			return err
		}
		for _, elem := range v.List {
			if err := EncodeValue(w, elem); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if len(v.Map) > 0xFFFF {
			return fmt.Errorf("wire: map too long: %d entries", len(v.Map))
		}
		if err := wirebytes.Put[uint16](w, uint16(len(v.Map))); err != nil {
			return err
		}
		for _, e := range v.Map {
			if err := EncodeValue(w, e.Key); err != nil {
				return err
			}
			if err := EncodeValue(w, e.Val); err != nil {
				return err
			}
		}
		return nil
	case KindTuple:
		if len(v.Tuple) > 0xFFFF {
			return fmt.Errorf("wire: tuple too long: %d elements", len(v.Tuple))
		}
		if err := wirebytes.Put[uint16](w, uint16(len(v.Tuple))); err != nil {
			return err
		}
		if err := wirebytes.PutString(w, v.Schema); err != nil {
			return err
		}
		for _, elem := range v.Tuple {
			if err := EncodeValue(w, elem); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("wire: unknown value kind %d", v.Kind)
	}
}

// DecodeValue reads a type-tagged Value from r.
func DecodeValue(r io.Reader) (Value, error) {
	kindByte, err := wirebytes.Get[uint8](r)
	if err != nil {
		return Value{}, err
	}
	kind := ValueKind(kindByte)
	switch kind {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := wirebytes.Get[uint8](r)
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindI8:
		v, err := wirebytes.Get[int8](r)
		return I8(v), err
	case KindI16:
		v, err := wirebytes.Get[int16](r)
		return I16(v), err
	case KindI32:
		v, err := wirebytes.Get[int32](r)
		return I32(v), err
	case KindI64:
		v, err := wirebytes.Get[int64](r)
		return I64(v), err
	case KindF32:
		bits, err := wirebytes.Get[uint32](r)
		if err != nil {
			return Value{}, err
		}
		return F32(math.Float32frombits(bits)), nil
	case KindF64:
		bits, err := wirebytes.Get[uint64](r)
		if err != nil {
			return Value{}, err
		}
		return F64(math.Float64frombits(bits)), nil
	case KindChar:
		v, err := wirebytes.Get[uint32](r)
		if err != nil {
			return Value{}, err
		}
		return Char(rune(v)), nil
	case KindString:
		s, err := wirebytes.GetString(r)
		return Str(s), err
	case KindBytes:
		b, err := wirebytes.GetBytes(r)
		return Bin(b), err
	case KindUUID:
		b := make([]byte, 16)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, err
		}
		id, err := uuid.FromBytes(b)
		if err != nil {
			return Value{}, fmt.Errorf("wire: malformed uuid: %w", err)
		}
		return UUIDValue(id), nil
	case KindList:
		n, err := wirebytes.Get[uint16](r)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, n)
		for i := uint16(0); i < n; i++ {
			elem, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, elem)
		}
		return List(elems), nil
	case KindMap:
		n, err := wirebytes.Get[uint16](r)
		if err != nil {
			return Value{}, err
		}
		entries := make([]MapEntry, 0, n)
		seen := make(map[string]struct{}, n)
		for i := uint16(0); i < n; i++ {
			k, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			val, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			sig := mapKeySignature(k)
			if _, dup := seen[sig]; dup {
				return Value{}, fmt.Errorf("wire: duplicate map key")
			}
			seen[sig] = struct{}{}
			entries = append(entries, MapEntry{Key: k, Val: val})
		}
		return Map(entries), nil
	case KindTuple:
		n, err := wirebytes.Get[uint16](r)
		if err != nil {
			return Value{}, err
		}
		schema, err := wirebytes.GetString(r)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, n)
		for i := uint16(0); i < n; i++ {
			elem, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, elem)
		}
		return Tuple(schema, elems), nil
	default:
		return Value{}, fmt.Errorf("wire: unknown value kind tag %d", kindByte)
	}
}

// mapKeySignature gives a comparable string for duplicate-key detection.
// It does not need to be collision-free across kinds that never compare
// equal (e.g. I32 vs I64), only within one.
func mapKeySignature(v Value) string {
	return fmt.Sprintf("%d:%v", v.Kind, v)
}
