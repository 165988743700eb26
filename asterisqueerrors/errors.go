// Package asterisqueerrors provides the kind-tagged error values used
// throughout the engine, instead of ad-hoc sentinel errors or string
// matching. Category answers "how fatal, to what scope"; Type answers
// "which entry in the taxonomy" (spec §7).
package asterisqueerrors

import (
	"fmt"

	"github.com/gostdlib/base/context"
	baseerrors "github.com/gostdlib/base/errors"
)

// Category answers how far an error's fatality reaches.
type Category uint32

const (
	// CatUnknown should never be constructed directly.
	CatUnknown Category = Category(0)
	// CatCall scopes the error to a single pipe/call; the session survives.
	CatCall Category = Category(1)
	// CatSession scopes the error to the whole session; the session is torn down.
	CatSession Category = Category(2)
	// CatWire scopes the error to the underlying transport; the wire (and
	// therefore the session riding on it) is torn down.
	CatWire Category = Category(3)
)

// Type is the specific taxonomy entry from spec §7.
type Type uint16

const (
	// TypeUnknown should never be constructed directly.
	TypeUnknown Type = Type(0)
	// TypeProtocol covers framing, magic, version, order, or field
	// violations. Always CatSession or CatWire.
	TypeProtocol Type = Type(1)
	// TypeCodec covers a value that cannot be encoded to a transferable
	// type, or decoded to a declared parameter type. Always CatCall.
	TypeCodec Type = Type(2)
	// TypeResourceExhausted covers a full pipe-id space or a tripped hard
	// limit. Always CatSession (or CatWire when it forces a reconnect).
	TypeResourceExhausted Type = Type(3)
	// TypeNotFound covers an unknown pipe-id or unknown functionId.
	// Always CatCall.
	TypeNotFound Type = Type(4)
	// TypeClosed covers an operation against an already-closed pipe,
	// session, or queue.
	TypeClosed Type = Type(5)
	// TypeCancelled covers cooperative cancellation.
	TypeCancelled Type = Type(6)
	// TypeTransport covers errors bubbled up from the transport bridge.
	// Always CatWire.
	TypeTransport Type = Type(7)
)

// Error is a kind-tagged error. Cause is the underlying error, if any;
// Traced is whatever github.com/gostdlib/base/errors attached for
// observability (span status, stack trace) and is carried only for that
// side effect — engine code should not depend on its shape.
type Error struct {
	Cat    Category
	Typ    Type
	Cause  error
	Traced error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("asterisque: %s: %v", e.Typ, e.Cause)
	}
	return fmt.Sprintf("asterisque: %s", e.Typ)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (t Type) String() string {
	switch t {
	case TypeProtocol:
		return "protocol error"
	case TypeCodec:
		return "codec error"
	case TypeResourceExhausted:
		return "resource exhausted"
	case TypeNotFound:
		return "not found"
	case TypeClosed:
		return "closed"
	case TypeCancelled:
		return "cancelled"
	case TypeTransport:
		return "transport error"
	default:
		return "unknown error"
	}
}

// E constructs a tagged Error, additionally routing it through
// github.com/gostdlib/base/errors.E for tracing/logging side effects (the
// teacher's idiom throughout rpc/server and rpc/client). The trace's
// category/type line up 1:1 with Cat/Typ above.
func E(ctx context.Context, cat Category, typ Type, cause error, opts ...baseerrors.EOption) *Error {
	o := make([]baseerrors.EOption, 0, len(opts)+1)
	o = append(o, baseerrors.WithCallNum(2))
	o = append(o, opts...)
	traced := baseerrors.E(ctx, baseerrors.Category(cat), baseerrors.Type(typ), cause, o...)
	return &Error{Cat: cat, Typ: typ, Cause: cause, Traced: traced}
}

// Is reports whether err (or something it wraps) is an *Error of the given Type.
func Is(err error, typ Type) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	return e.Typ == typ
}

// As delegates to the stdlib errors.As semantics via gostdlib/base/errors.
func As(err error, target any) bool {
	return baseerrors.As(err, target)
}

// New is a thin pass-through to avoid importing the stdlib errors package
// directly throughout the engine.
func New(text string) error {
	return baseerrors.New(text)
}

// Unwrap delegates to errors.Unwrap.
func Unwrap(err error) error {
	return baseerrors.Unwrap(err)
}
