// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"math"
)

// Value is a constant as stored in a Proto's constant table. It is a closed
// tagged union: exactly one of its accessor methods describes the payload
// that matters for a given Value.
type Value struct {
	tag    valueTag
	number uint64
	str    string
}

type valueTag uint8

const (
	tagNil valueTag = iota
	tagBoolean
	tagInteger
	tagFloat
	tagString
)

// NilValue is the constant Nil value.
var NilValue = Value{tag: tagNil}

// BooleanValue returns a constant Boolean value.
func BooleanValue(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{tag: tagBoolean, number: n}
}

// IntegerValue returns a constant Integer value.
func IntegerValue(i int64) Value {
	return Value{tag: tagInteger, number: uint64(i)}
}

// FloatValue returns a constant Float value.
func FloatValue(f float64) Value {
	return Value{tag: tagFloat, number: math.Float64bits(f)}
}

// StringValue returns a constant String value.
func StringValue(s string) Value {
	return Value{tag: tagString, str: s}
}

// IsNil reports whether v is the Nil value.
func (v Value) IsNil() bool { return v.tag == tagNil }

// IsBoolean reports whether v is a Boolean value.
func (v Value) IsBoolean() bool { return v.tag == tagBoolean }

// Boolean returns the value's payload if v IsBoolean, otherwise false.
func (v Value) Boolean() bool { return v.tag == tagBoolean && v.number != 0 }

// IsInteger reports whether v is an Integer value.
func (v Value) IsInteger() bool { return v.tag == tagInteger }

// Integer returns the value's payload if v IsInteger, otherwise zero.
func (v Value) Integer() int64 {
	if v.tag != tagInteger {
		return 0
	}
	return int64(v.number)
}

// IsFloat reports whether v is a Float value.
func (v Value) IsFloat() bool { return v.tag == tagFloat }

// Float returns the value's payload if v IsFloat, otherwise zero.
func (v Value) Float() float64 {
	if v.tag != tagFloat {
		return 0
	}
	return math.Float64frombits(v.number)
}

// IsString reports whether v is a String value.
func (v Value) IsString() bool { return v.tag == tagString }

// String returns a human-readable rendering of v for disassembly listings.
// It does not implement fmt.Stringer identically to the string payload: use
// [Value.StringValue] to recover the payload of an IsString value.
func (v Value) String() string {
	switch v.tag {
	case tagNil:
		return "nil"
	case tagBoolean:
		return fmt.Sprintf("%t", v.Boolean())
	case tagInteger:
		return fmt.Sprintf("%d", v.Integer())
	case tagFloat:
		return fmt.Sprintf("%g", v.Float())
	case tagString:
		return fmt.Sprintf("%q", v.str)
	default:
		return "?"
	}
}

// StringValue returns the value's payload if v IsString, otherwise "".
func (v Value) StringValue() string { return v.str }

// Equal reports whether v and other denote the same constant, coercing
// between Integer and Float by numeric value (not representation).
func (v Value) Equal(other Value) bool {
	switch {
	case v.tag == tagNil && other.tag == tagNil:
		return true
	case v.tag == tagBoolean && other.tag == tagBoolean:
		return v.Boolean() == other.Boolean()
	case v.tag == tagString && other.tag == tagString:
		return v.str == other.str
	case v.IsInteger() && other.IsInteger():
		return v.Integer() == other.Integer()
	case v.IsFloat() && other.IsFloat():
		return v.Float() == other.Float()
	case v.IsInteger() && other.IsFloat(), v.IsFloat() && other.IsInteger():
		i, f := v.Integer(), other.Float()
		if v.IsFloat() {
			i, f = other.Integer(), v.Float()
		}
		// Exact conversion: casting i to float64 would lose precision beyond 2^53.
		return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 && int64(f) == i
	default:
		return false
	}
}
