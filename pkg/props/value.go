// Package props implements SKALD's property value model.
//
// Property values are a closed tagged union over null, boolean, integer,
// float, and string. Values compare by kind tag first, then by underlying
// value, which gives the index layer a total order across mixed-type
// postings without reflection or panics.
//
// Attribute names are interned once per graph in an AttrSet: every entity
// stores properties keyed by a dense AttrID rather than repeating the name,
// which keeps records compact and makes the durable image's intern table
// trivial to emit.
//
// Example Usage:
//
//	attrs := props.NewAttrSet()
//	name := attrs.Intern("name")
//
//	m := props.Map{}
//	m.Set(name, props.StringValue("Alon"))
//
//	v, ok := m.Get(name)
//	if ok && v.Equal(props.StringValue("Alon")) {
//		// ...
//	}
package props

import (
	"fmt"
	"strconv"
)

// Kind is the type tag of a Value.
type Kind uint8

// Value kinds, in comparison order. Null sorts before everything else;
// the numeric order of these constants is the tag order used by Compare
// and is part of the durable image format. Do not reorder.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged property value. The zero Value is null.
//
// Value is a closed sum type: exactly one of the payload fields is
// meaningful, selected by Kind. Construct values through the typed
// constructors rather than struct literals.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }

// FloatValue returns a floating point value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// StringValue returns a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// FromAny converts a dynamically typed value at the API boundary into a
// tagged Value. Integer widths are widened to int64, float32 to float64.
// Unsupported types are rejected rather than stringified.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float32:
		return FloatValue(float64(x)), nil
	case float64:
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case Value:
		return x, nil
	default:
		return Value{}, fmt.Errorf("props: unsupported property type %T", v)
	}
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload. Valid only when Kind() == KindBool.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload. Valid only when Kind() == KindInt.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload. Valid only when Kind() == KindFloat.
func (v Value) Float() float64 { return v.f }

// Str returns the string payload. Valid only when Kind() == KindString.
func (v Value) Str() string { return v.s }

// Any returns the payload as a dynamically typed value, for callers leaving
// the storage boundary (result sets, CLI output).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

// Compare orders two values: by kind tag first, then by payload. Returns a
// negative number, zero, or a positive number as v sorts before, equal to,
// or after o.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	case KindInt:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case v.f < o.f:
			return -1
		case v.f > o.f:
			return 1
		default:
			return 0
		}
	default:
		switch {
		case v.s < o.s:
			return -1
		case v.s > o.s:
			return 1
		default:
			return 0
		}
	}
}

// Equal reports tag-and-payload equality.
func (v Value) Equal(o Value) bool { return v.Compare(o) == 0 }

// String renders the value for diagnostics and EXPLAIN output.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "null"
	}
}
