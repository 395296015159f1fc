// Package dynamic implements typed runtime values, the expression tree
// they are computed from, and the engine that binds expressions to live
// data sources (state store, platform sensors, time ticks).
//
// The package is the leaf of the data model: record and wire build on
// top of it, and host-side source implementations satisfy its
// collaborator interfaces.
package dynamic

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind enumerates the runtime types an evaluated expression can
// produce.
type ValueKind uint8

const (
	// KindNone is the zero ValueKind; a Value of this kind carries no data.
	KindNone ValueKind = iota
	KindFloat
	KindString
	KindBool
	KindInt
	KindInstant
)

func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindInstant:
		return "instant"
	default:
		return fmt.Sprintf("valuekind(%d)", uint8(k))
	}
}

// Value is a typed scalar produced by evaluating an expression node.
// The zero Value has kind KindNone and compares equal only to itself.
type Value struct {
	kind ValueKind
	f    float32
	s    string
	b    bool
	i    int32
	t    time.Time
}

// Float wraps a float32 as a Value.
func Float(v float32) Value { return Value{kind: KindFloat, f: v} }

// String wraps a string as a Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool wraps a bool as a Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps an int32 as a Value.
func Int(v int32) Value { return Value{kind: KindInt, i: v} }

// Instant wraps a point in time as a Value.
func Instant(t time.Time) Value { return Value{kind: KindInstant, t: t} }

// Kind reports the runtime type of the value.
func (v Value) Kind() ValueKind { return v.kind }

// AsFloat returns the float payload. ok is false when the value is not a float.
func (v Value) AsFloat() (float32, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string payload. ok is false when the value is not a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the bool payload. ok is false when the value is not a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the int payload. ok is false when the value is not an int.
func (v Value) AsInt() (int32, bool) { return v.i, v.kind == KindInt }

// AsInstant returns the time payload. ok is false when the value is not an instant.
func (v Value) AsInstant() (time.Time, bool) { return v.t, v.kind == KindInstant }

// Equal reports whether two values have the same kind and payload.
// Instants compare with time.Time.Equal so differing wall-clock
// representations of the same moment are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindInstant:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// String renders the value for logs and debug output.
func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case KindString:
		return strconv.Quote(v.s)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(int64(v.i), 10)
	case KindInstant:
		return v.t.Format(time.RFC3339)
	default:
		return "<none>"
	}
}
